package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/ttani03/lan-ipam/internal/allocator"
	"github.com/ttani03/lan-ipam/internal/database"
	"github.com/ttani03/lan-ipam/internal/ledger"
	"github.com/ttani03/lan-ipam/internal/models"
)

// hostnameRegex accepts RFC 1123 host names: dot separated labels of
// letters, digits and inner hyphens.
var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func HandleClaimIP(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	rawID := r.PathValue("id")
	subnetID, err := models.ParseID(rawID)
	if err != nil {
		http.Error(w, "Subnet not found", http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid input", http.StatusBadRequest)
		return
	}

	requested := strings.TrimSpace(r.FormValue("requested_ip"))
	hostname := strings.TrimSpace(r.FormValue("hostname"))
	description := strings.TrimSpace(r.FormValue("description"))

	if hostname != "" && !hostnameRegex.MatchString(hostname) {
		http.Error(w, "Invalid hostname", http.StatusBadRequest)
		return
	}

	req := ledger.ClaimRequest{Owner: ident.User, Hostname: hostname, Description: description}
	var alloc models.Allocation
	if requested != "" {
		alloc, err = engine.ClaimSpecific(r.Context(), subnetID, requested, req)
	} else {
		alloc, err = engine.ClaimFirstFree(r.Context(), subnetID, req)
	}

	switch {
	case errors.Is(err, allocator.ErrSubnetNotFound):
		http.Error(w, "Subnet not found", http.StatusNotFound)
	case err != nil && requested != "":
		redirectToSubnet(w, r, rawID, "Could not claim "+requested+". It may be in use, excluded, outside subnet, or already claimed.")
	case err != nil:
		redirectToSubnet(w, r, rawID, "No free IP available (or all candidates look in-use on the network).")
	default:
		redirectToSubnet(w, r, rawID, "Claimed "+alloc.Address+".")
	}
}

func HandleReleaseIP(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	id, err := models.ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Allocation not found", http.StatusNotFound)
		return
	}

	alloc, err := ledger.GetAllocation(r.Context(), database.DB, id)
	if err != nil {
		http.Error(w, "Allocation not found", http.StatusNotFound)
		return
	}

	// The engine applies no authorization of its own.
	if !ident.Staff && ident.User != alloc.Owner {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if _, err := engine.Release(r.Context(), id, ident.User); err != nil {
		http.Error(w, "Failed to release IP", http.StatusInternalServerError)
		return
	}

	redirectToSubnet(w, r, models.IDString(alloc.SubnetID), "")
}

type historyResponse struct {
	Allocation models.Allocation        `json:"allocation"`
	Events     []models.AllocationEvent `json:"events"`
}

func HandleAllocationHistory(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Allocation not found", http.StatusNotFound)
		return
	}
	alloc, err := ledger.GetAllocation(r.Context(), database.DB, id)
	if err != nil {
		http.Error(w, "Allocation not found", http.StatusNotFound)
		return
	}
	events, err := ledger.History(r.Context(), database.DB, id)
	if err != nil {
		requestLogger(r).WithError(err).Error("allocation history")
		http.Error(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(historyResponse{Allocation: alloc, Events: events})
}
