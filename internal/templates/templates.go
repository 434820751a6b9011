// Package templates holds the HTML views. The *_templ.go files are generated
// from the .templ sources by `templ generate` and committed.
package templates

import (
	"strings"

	"github.com/a-h/templ"

	"github.com/ttani03/lan-ipam/internal/models"
	"github.com/ttani03/lan-ipam/internal/subnets"
)

// DetailView is everything the subnet page shows.
type DetailView struct {
	Subnet      models.Subnet
	Layout      subnets.Layout
	Allocations []models.Allocation
	Stale       []models.Allocation
	StaleDays   int
	Query       string
	FreeIP      string
	FreeChecked bool
	Flash       string
	User        string
	Staff       bool
}

func subnetURL(s models.Subnet, suffix string) templ.SafeURL {
	return templ.URL("/subnets/" + models.IDString(s.ID) + suffix)
}

func rangeText(first, last string) string {
	if first == "" {
		return "none"
	}
	return first + " - " + last
}

func listText(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}
