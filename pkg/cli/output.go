package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/urfave/cli/v3"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
	dimColor    = color.New(color.Faint)
)

// printer writes command results as human text or JSON
type printer struct {
	w    io.Writer
	json bool
}

func jsonFlag(dst *bool) cli.Flag {
	return &cli.BoolFlag{
		Name:        "json",
		Usage:       "Print the result as JSON",
		Destination: dst,
	}
}

func newPrinter(c *cli.Command, asJSON bool) *printer {
	w := c.Root().Writer
	if w == nil {
		w = os.Stdout
	}
	return &printer{w: w, json: asJSON}
}

func (p *printer) printJSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	return nil
}

func (p *printer) processed(result *usecase.ProcessResult) error {
	if p.json {
		return p.printJSON(result)
	}
	doc := result.Document
	if result.AlreadyExisted {
		warnColor.Fprintf(p.w, "Already processed: %s\n", doc.Filename)
	} else {
		okColor.Fprintf(p.w, "Processed: %s\n", doc.Filename)
	}
	fmt.Fprintf(p.w, "  id:    %s\n", doc.ID)
	fmt.Fprintf(p.w, "  title: %s\n", doc.Title)
	return nil
}

func (p *printer) batch(result *usecase.BatchResult) error {
	if p.json {
		errs := make([]map[string]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			errs = append(errs, map[string]string{"ref": e.Ref, "error": e.Err.Error()})
		}
		return p.printJSON(map[string]any{
			"processed":    len(result.Succeeded),
			"document_ids": result.Succeeded,
			"skipped":      result.Skipped,
			"errors":       errs,
		})
	}

	headerColor.Fprintln(p.w, "Batch result")
	okColor.Fprintf(p.w, "  processed: %d\n", len(result.Succeeded))
	warnColor.Fprintf(p.w, "  skipped:   %d\n", len(result.Skipped))
	if len(result.Errors) == 0 {
		fmt.Fprintf(p.w, "  failed:    0\n")
		return nil
	}
	errColor.Fprintf(p.w, "  failed:    %d\n", len(result.Errors))
	for _, e := range result.Errors {
		fmt.Fprintf(p.w, "    %s: %s\n", e.Ref, e.Err.Error())
	}
	return nil
}

func (p *printer) documents(docs []*model.Document) error {
	if p.json {
		return p.printJSON(docs)
	}
	if len(docs) == 0 {
		dimColor.Fprintln(p.w, "No documents")
		return nil
	}
	for _, doc := range docs {
		headerColor.Fprintf(p.w, "%s", doc.Title)
		dimColor.Fprintf(p.w, "  %s  %s\n", doc.ID, doc.Filename)
	}
	return nil
}

func (p *printer) detail(detail *usecase.DocumentDetail) error {
	if p.json {
		return p.printJSON(detail)
	}
	doc := detail.Document
	headerColor.Fprintln(p.w, doc.Title)
	dimColor.Fprintf(p.w, "%s  %s\n", doc.ID, doc.Filename)
	for _, field := range []struct{ name, value string }{
		{"Brief", doc.Brief},
		{"Specifications", doc.Specifications},
		{"Production package", doc.ProductionPackage},
		{"Fabric consumption", doc.FabricConsumption},
		{"Preprocessings", doc.Preprocessings},
	} {
		if field.value == "" {
			continue
		}
		fmt.Fprintf(p.w, "\n%s\n%s\n", color.New(color.Bold).Sprint(field.name), field.value)
	}
	if len(detail.Instructions) > 0 {
		fmt.Fprintf(p.w, "\n%s\n", color.New(color.Bold).Sprint("Instructions"))
	}
	for i, inst := range detail.Instructions {
		prefix := fmt.Sprintf("%2d. [p%d]", i+1, inst.Page)
		if inst.Header != "" {
			fmt.Fprintf(p.w, "%s %s: %s\n", prefix, inst.Header, inst.Instruction)
		} else {
			fmt.Fprintf(p.w, "%s %s\n", prefix, inst.Instruction)
		}
	}
	return nil
}

func (p *printer) search(result *usecase.SearchResult) error {
	if p.json {
		return p.printJSON(result)
	}
	if result.Count() == 0 {
		dimColor.Fprintln(p.w, "No results")
		return nil
	}
	for _, hit := range result.Documents {
		okColor.Fprintf(p.w, "%.3f ", hit.Similarity)
		headerColor.Fprintf(p.w, "%s", hit.Title)
		dimColor.Fprintf(p.w, "  %s  %s\n", hit.ID, hit.Filename)
	}
	for _, hit := range result.Instructions {
		okColor.Fprintf(p.w, "%.3f ", hit.Similarity)
		text := hit.Instruction
		if hit.Header != "" {
			text = hit.Header + ": " + text
		}
		fmt.Fprintf(p.w, "%s", text)
		dimColor.Fprintf(p.w, "  (document %s, page %d)\n", hit.ParentID, hit.Page)
	}
	return nil
}

func (p *printer) files(listing *usecase.DriveListing) error {
	if p.json {
		return p.printJSON(listing)
	}
	if listing.Count == 0 {
		warnColor.Fprintln(p.w, "No PDF files found")
		for _, m := range listing.Breakdown {
			fmt.Fprintf(p.w, "  %5d  %s\n", m.Count, m.MimeType)
		}
		return nil
	}
	for _, f := range listing.Files {
		fmt.Fprintf(p.w, "%s", f.Name)
		dimColor.Fprintf(p.w, "  %s  %s\n", f.ID, humanSize(f.Size))
	}
	fmt.Fprintf(p.w, "%d PDF files\n", listing.Count)
	return nil
}

func (p *printer) health(status *usecase.HealthStatus) error {
	if p.json {
		return p.printJSON(status)
	}
	if status.Healthy {
		okColor.Fprintln(p.w, "healthy")
	} else {
		errColor.Fprintln(p.w, "unhealthy")
	}
	dimColor.Fprintf(p.w, "  backend: %s  state: %s\n", status.Database.Backend, status.Database.State)
	return nil
}

func (p *printer) reconnect(result *usecase.ReconnectResult) error {
	if p.json {
		return p.printJSON(result)
	}
	if result.Success {
		okColor.Fprintln(p.w, result.Message)
		return nil
	}
	errColor.Fprintln(p.w, result.Message)
	if result.Suggestion != "" {
		fmt.Fprintln(p.w, result.Suggestion)
	}
	return nil
}

func (p *printer) deleted(id model.DocumentID) error {
	if p.json {
		return p.printJSON(map[string]any{"deleted": true, "id": id})
	}
	okColor.Fprintf(p.w, "Deleted %s\n", id)
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// confirm reads a yes/no answer. Anything but y or yes is no.
func confirm(r io.Reader, w io.Writer, question string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", question)
	var answer string
	if _, err := fmt.Fscanln(r, &answer); err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
