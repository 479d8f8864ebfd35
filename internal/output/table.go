package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jbweber/kiln/internal/status"
)

// TableFormatter formats views as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatChannels formats the channel overview as a table.
func (f *TableFormatter) FormatChannels(channels []ChannelStatus) (string, error) {
	if len(channels) == 0 {
		return "No channels resolved\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "CHANNEL\tVERSION\tAVAILABLE\tVS STABLE\tURL")
	}

	for _, c := range channels {
		version := dash(c.Version)
		avail := "yes"
		url := dash(c.URL)
		if !c.Available {
			avail = "no"
			if c.Error != "" {
				url = c.Error
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Channel, version, avail, dash(c.VsStable), url)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatPools formats storages as a table.
func (f *TableFormatter) FormatPools(pools []PoolView) (string, error) {
	if len(pools) == 0 {
		return "No storages found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tTYPE\tACTIVE\tIMAGES\tAVAILABLE\tLAYOUT\tTHIN\tDEFAULT")
	}

	for _, p := range pools {
		avail := "-"
		if p.Total > 0 {
			avail = humanize.IBytes(p.Available)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Type, yesNo(p.Active), yesNo(p.SupportsImages()), avail,
			p.Profile.Layout, yesNo(p.Profile.Thin()), mark(p.Default))
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatProfile formats a storage profile as aligned key/value lines.
func (f *TableFormatter) FormatProfile(profile ProfileView) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	p := profile.Profile
	_, _ = fmt.Fprintf(w, "Storage:\t%s\n", profile.Storage)
	_, _ = fmt.Fprintf(w, "Backend:\t%s\n", p.Backend)
	_, _ = fmt.Fprintf(w, "Layout:\t%s\n", p.Layout)
	_, _ = fmt.Fprintf(w, "Extension:\t%s\n", dash(p.Extension))
	_, _ = fmt.Fprintf(w, "Import format:\t%s\n", dash(string(p.Format)))
	_, _ = fmt.Fprintf(w, "Thin flags:\t%s\n", dash(p.ThinFlags))
	_, _ = fmt.Fprintf(w, "EFI disk:\t%s\n", profile.EFIDisk)
	_, _ = fmt.Fprintf(w, "Root disk:\t%s\n", profile.RootDisk)

	_ = w.Flush()
	return buf.String(), nil
}

// FormatRun formats a run report as aligned key/value lines followed by
// the phase history.
func (f *TableFormatter) FormatRun(run *RunReport) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	vmid := "-"
	if run.VMID > 0 {
		vmid = fmt.Sprintf("%d", run.VMID)
	}

	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.RunID)
	_, _ = fmt.Fprintf(w, "VM:\t%s (%s)\n", vmid, dash(run.Name))
	if run.Version != "" {
		_, _ = fmt.Fprintf(w, "Release:\t%s (%s)\n", run.Version, run.Channel)
	}
	_, _ = fmt.Fprintf(w, "Storage:\t%s (%s)\n", dash(run.Storage), dash(string(run.Backend)))
	_, _ = fmt.Fprintf(w, "Phase:\t%s\n", run.Phase)
	if run.Phase == status.PhaseFailed {
		_, _ = fmt.Fprintf(w, "Rolled back:\t%s\n", yesNo(run.RolledBack))
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	for _, warn := range run.Warnings {
		_, _ = fmt.Fprintf(w, "Warning:\t%s\n", warn)
	}
	_, _ = fmt.Fprintf(w, "Elapsed:\t%s\n", run.Elapsed.Round(time.Millisecond))
	_ = w.Flush()

	if len(run.Transitions) > 0 && !f.NoHeaders {
		buf.WriteString("\n")
		tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "PHASE\tAT\tMESSAGE")
		for _, t := range run.Transitions {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", t.To, t.At.Format(time.TimeOnly), dash(oneLine(t.Message)))
		}
		_ = tw.Flush()
	}

	return buf.String(), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
