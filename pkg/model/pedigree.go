package model

import "strings"

// Pedigree addresses one node in a product tree: every mutation, diff entry
// and patch entry is expressed against a pedigree. Empty trailing components
// shorten the address: {P, V, ""} addresses a version, {P, "", ""} a product.
type Pedigree struct {
	Product string
	Version string
	Item    string
}

// NewPedigree builds a pedigree from up to three components.
func NewPedigree(parts ...string) Pedigree {
	var p Pedigree
	if len(parts) > 0 {
		p.Product = parts[0]
	}
	if len(parts) > 1 {
		p.Version = parts[1]
	}
	if len(parts) > 2 {
		p.Item = parts[2]
	}
	return p
}

// Depth reports how many components are set (1..3).
func (p Pedigree) Depth() int {
	switch {
	case p.Item != "":
		return 3
	case p.Version != "":
		return 2
	default:
		return 1
	}
}

func (p Pedigree) String() string {
	parts := []string{p.Product}
	if p.Version != "" {
		parts = append(parts, p.Version)
		if p.Item != "" {
			parts = append(parts, p.Item)
		}
	}
	return strings.Join(parts, "/")
}
