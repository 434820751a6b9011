package handlers

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/ttani03/lan-ipam/internal/allocator"
	"github.com/ttani03/lan-ipam/internal/database"
	"github.com/ttani03/lan-ipam/internal/ledger"
	"github.com/ttani03/lan-ipam/internal/models"
	"github.com/ttani03/lan-ipam/internal/report"
	"github.com/ttani03/lan-ipam/internal/subnets"
	"github.com/ttani03/lan-ipam/internal/templates"
)

var (
	engine    *allocator.Engine
	staleDays = 30
	now       = time.Now
)

// Configure sets the engine and stale threshold used by the handlers.
func Configure(e *allocator.Engine, days int) {
	engine = e
	if days > 0 {
		staleDays = days
	}
}

func HandleSubnetList(w http.ResponseWriter, r *http.Request) {
	staff := identityFrom(r.Context()).Staff
	rows, err := subnets.Summaries(r.Context(), database.DB, !staff)
	if err != nil {
		requestLogger(r).WithError(err).Error("list subnets")
		http.Error(w, "Failed to fetch subnets", http.StatusInternalServerError)
		return
	}

	component := templates.SubnetList(rows, staff)
	component.Render(r.Context(), w)
}

func HandleCreateSubnet(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).Staff {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	_, err := subnets.Create(r.Context(), database.DB, subnets.Input{
		Name:        r.FormValue("name"),
		CIDR:        r.FormValue("cidr"),
		Gateway:     r.FormValue("gateway"),
		ExcludedIPs: r.FormValue("excluded_ips"),
		IsActive:    true,
	})
	switch {
	case errors.Is(err, subnets.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, subnets.ErrDuplicateName):
		http.Error(w, "A subnet with that name already exists", http.StatusConflict)
		return
	case err != nil:
		requestLogger(r).WithError(err).Error("create subnet")
		http.Error(w, "Failed to create subnet", http.StatusInternalServerError)
		return
	}

	// Return updated list
	HandleSubnetList(w, r)
}

// HandleUpdateSubnet replaces the editable fields of a subnet. An unchecked
// is_active box deactivates it; claims against inactive subnets are refused.
func HandleUpdateSubnet(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).Staff {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	rawID := r.PathValue("id")
	id, err := models.ParseID(rawID)
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	active := r.FormValue("is_active")
	_, err = subnets.Update(r.Context(), database.DB, id, subnets.Input{
		Name:        r.FormValue("name"),
		CIDR:        r.FormValue("cidr"),
		Gateway:     r.FormValue("gateway"),
		ExcludedIPs: r.FormValue("excluded_ips"),
		IsActive:    active == "1" || active == "on" || active == "true",
	})
	switch {
	case errors.Is(err, subnets.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, subnets.ErrNotFound):
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	case errors.Is(err, subnets.ErrDuplicateName):
		http.Error(w, "A subnet with that name already exists", http.StatusConflict)
		return
	case err != nil:
		requestLogger(r).WithError(err).Error("update subnet")
		http.Error(w, "Failed to update subnet", http.StatusInternalServerError)
		return
	}

	redirectToSubnet(w, r, rawID, "Subnet updated.")
}

func HandleDeleteSubnet(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).Staff {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	id, err := models.ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}

	err = subnets.Delete(r.Context(), database.DB, id)
	switch {
	case errors.Is(err, subnets.ErrNotFound):
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	case errors.Is(err, subnets.ErrHasAllocations):
		http.Error(w, "Subnet has allocations and cannot be deleted", http.StatusConflict)
		return
	case err != nil:
		requestLogger(r).WithError(err).Error("delete subnet")
		http.Error(w, "Failed to delete subnet", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func HandleSubnetDetail(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	id, err := models.ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}
	subnet, err := subnets.Get(r.Context(), database.DB, id, !ident.Staff)
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	cutoff := report.StaleCutoff(now(), staleDays)
	filter := ledger.Filter{Query: q.Get("q"), UsedOnly: q.Get("used") == "1"}
	if q.Get("mine") == "1" {
		filter.Owner = ident.User
	}
	if q.Get("stale") == "1" {
		filter.StaleBefore = cutoff
	}

	allocs, err := ledger.ListAllocations(r.Context(), database.DB, id, filter)
	if err != nil {
		requestLogger(r).WithError(err).Error("list allocations")
		http.Error(w, "Failed to fetch allocations", http.StatusInternalServerError)
		return
	}
	stale, err := ledger.StaleAllocations(r.Context(), database.DB, id, cutoff)
	if err != nil {
		requestLogger(r).WithError(err).Error("list stale allocations")
		http.Error(w, "Failed to fetch allocations", http.StatusInternalServerError)
		return
	}

	view := templates.DetailView{
		Subnet:      subnet,
		Layout:      subnets.Describe(subnet),
		Allocations: allocs,
		Stale:       stale,
		StaleDays:   staleDays,
		Query:       q.Get("q"),
		Flash:       q.Get("flash"),
		User:        ident.User,
		Staff:       ident.Staff,
	}

	if q.Get("check_free") == "1" && subnet.IsActive {
		view.FreeChecked = true
		if addr, err := engine.FindFree(r.Context(), id); err == nil {
			view.FreeIP = addr.String()
		}
	}

	component := templates.SubnetDetail(view)
	component.Render(r.Context(), w)
}

func HandleStaleCSV(w http.ResponseWriter, r *http.Request) {
	if !identityFrom(r.Context()).Staff {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	id, err := models.ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}
	subnet, err := subnets.Get(r.Context(), database.DB, id, true)
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}

	ts := now()
	allocs, err := ledger.StaleAllocations(r.Context(), database.DB, id, report.StaleCutoff(ts, staleDays))
	if err != nil {
		requestLogger(r).WithError(err).Error("list stale allocations")
		http.Error(w, "Failed to fetch allocations", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": report.StaleFilename(subnet, staleDays)}))
	if err := report.WriteStaleCSV(w, subnet, allocs, ts); err != nil {
		requestLogger(r).WithError(err).Error("write stale csv")
	}
}

func redirectToSubnet(w http.ResponseWriter, r *http.Request, subnetID, flash string) {
	target := "/subnets/" + subnetID
	if flash != "" {
		target += "?" + url.Values{"flash": {flash}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
