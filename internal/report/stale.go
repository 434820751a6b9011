// Package report renders read-only audit reports over the ledger.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ttani03/lan-ipam/internal/models"
)

var staleHeader = []string{"subnet", "cidr", "ip", "owner", "hostname", "claimed_at", "age_days", "description"}

// StaleCutoff is the claim time at or before which a USED allocation counts
// as stale.
func StaleCutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// StaleFilename is the attachment name used for a subnet's stale report.
func StaleFilename(subnet models.Subnet, days int) string {
	return fmt.Sprintf("stale_%s_%dd.csv", subnet.Name, days)
}

// WriteStaleCSV writes one row per allocation, in the order given.
func WriteStaleCSV(w io.Writer, subnet models.Subnet, allocs []models.Allocation, now time.Time) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(staleHeader); err != nil {
		return err
	}
	for _, a := range allocs {
		age := int(now.Sub(a.ClaimedAt).Hours() / 24)
		desc := strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ").Replace(a.Description))
		if err := cw.Write([]string{
			subnet.Name,
			subnet.CIDR,
			a.Address,
			a.Owner,
			a.Hostname,
			a.ClaimedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(age),
			desc,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
