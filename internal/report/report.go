// Package report renders scan and lookup results for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/johnstarich/go/netdiag"
	"github.com/johnstarich/go/netdiag/nameservers"
	"github.com/pkg/errors"
)

// Format selects a renderer
type Format string

// Supported formats
const (
	Text  Format = "text"
	Table Format = "table"
)

// ParseFormat returns the Format named 's'
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case Text, Table:
		return Format(s), nil
	default:
		return "", errors.Errorf("unknown output format: %q", s)
	}
}

const systemServer = "system"

type requestRow struct {
	domain string
	server string
	result string
	failed bool
}

// Printer writes results as they arrive in Text format, or buffers them until Flush in Table format.
// Methods are safe for concurrent use.
type Printer struct {
	writer io.Writer
	format Format

	answerColor  *color.Color
	failureColor *color.Color
	headerColor  *color.Color

	mu          sync.Mutex
	scanned     bool
	nameservers []nameservers.Nameserver
	requests    []requestRow
}

// New returns a Printer writing to 'w'
func New(w io.Writer, format Format, colorize bool) *Printer {
	p := &Printer{
		writer:       w,
		format:       format,
		answerColor:  color.New(color.FgGreen),
		failureColor: color.New(color.FgRed),
		headerColor:  color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.answerColor, p.failureColor, p.headerColor} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Nameservers prints the detected nameservers
func (p *Printer) Nameservers(found []nameservers.Nameserver) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == Table {
		p.scanned = true
		p.nameservers = append(p.nameservers, found...)
		return nil
	}

	servers := make([]string, 0, len(found))
	for _, nameserver := range found {
		servers = append(servers, nameserver.String())
	}
	serversJSON, err := json.Marshal(servers)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(p.writer, "%s %s\n", p.headerColor.Sprint("dns servers detected:"), serversJSON)
	return err
}

// ServerResult prints the outcome of a query sent to a specific server
func (p *Printer) ServerResult(result netdiag.ServerResult) error {
	value, failed := serverResultValue(result)
	return p.request(requestRow{
		domain: result.Domain,
		server: result.Server,
		result: value,
		failed: failed,
	}, fmt.Sprintf("dns request for %s on server %s:", result.Domain, result.Server))
}

func serverResultValue(result netdiag.ServerResult) (string, bool) {
	switch {
	case result.TimedOut:
		return "timed out", true
	case result.Err != nil:
		return result.Err.Error(), true
	default:
		return result.Answer.String(), false
	}
}

// SystemResult prints the outcome of an OS resolver lookup
func (p *Printer) SystemResult(result netdiag.SystemResult) error {
	value, failed, err := systemResultValue(result)
	if err != nil {
		return err
	}
	return p.request(requestRow{
		domain: result.Domain,
		server: systemServer,
		result: value,
		failed: failed,
	}, fmt.Sprintf("dns auto request for %s:", result.Domain))
}

func systemResultValue(result netdiag.SystemResult) (string, bool, error) {
	if result.Err != nil {
		return result.Err.Error(), true, nil
	}
	addressesJSON, err := json.Marshal(ipStrings(result.Addresses))
	return string(addressesJSON), false, err
}

func ipStrings(ips []net.IP) []string {
	strs := make([]string, 0, len(ips))
	for _, ip := range ips {
		strs = append(strs, ip.String())
	}
	return strs
}

func (p *Printer) request(row requestRow, prefix string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == Table {
		p.requests = append(p.requests, row)
		return nil
	}
	_, err := fmt.Fprintln(p.writer, prefix, p.colorize(row))
	return err
}

func (p *Printer) colorize(row requestRow) string {
	if row.failed {
		return p.failureColor.Sprint(row.result)
	}
	return p.answerColor.Sprint(row.result)
}

// Flush renders any buffered tables. Text output is never buffered.
func (p *Printer) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format != Table {
		return nil
	}

	var sb strings.Builder
	if p.scanned {
		sb.WriteString(p.nameserverTable())
		sb.WriteRune('\n')
		p.scanned = false
		p.nameservers = nil
	}
	if len(p.requests) > 0 {
		sb.WriteString(p.requestTable())
		sb.WriteRune('\n')
		p.requests = nil
	}
	_, err := io.WriteString(p.writer, sb.String())
	return err
}

func (p *Printer) nameserverTable() string {
	tbl := table.NewWriter()
	tbl.AppendHeader(table.Row{"Nameserver", "Port", "Source", "Search"})
	for _, nameserver := range p.nameservers {
		tbl.AppendRow(table.Row{
			nameserver.IP.String(),
			nameserver.Port,
			string(nameserver.Source),
			strings.Join(nameserver.Search, " "),
		})
	}
	tbl.SetStyle(table.StyleLight)
	return tbl.Render()
}

func (p *Printer) requestTable() string {
	rows := append([]requestRow(nil), p.requests...)
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].domain < rows[b].domain
	})

	tbl := table.NewWriter()
	tbl.AppendHeader(table.Row{"Domain", "Server", "Result"})
	for _, row := range rows {
		tbl.AppendRow(table.Row{row.domain, row.server, p.colorize(row)})
	}
	tbl.SetStyle(table.StyleLight)
	return tbl.Render()
}
