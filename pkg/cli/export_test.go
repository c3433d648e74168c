package cli

import (
	"context"
	"io"
	"net/http"

	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/urfave/cli/v3"
)

var (
	EnvFileArg  = envFileArg
	LoadEnvFile = loadEnvFile
	HumanSize   = humanSize
	Confirm     = confirm
)

// Printer exposes the output formatting for tests
type Printer struct{ p *printer }

func NewPrinterForTest(w io.Writer, asJSON bool) *Printer {
	return &Printer{p: &printer{w: w, json: asJSON}}
}

func (p *Printer) Batch(r *usecase.BatchResult) error { return p.p.batch(r) }
func (p *Printer) Files(l *usecase.DriveListing) error { return p.p.files(l) }
func (p *Printer) Search(r *usecase.SearchResult) error { return p.p.search(r) }
func (p *Printer) Detail(d *usecase.DocumentDetail) error { return p.p.detail(d) }
func (p *Printer) Documents(docs []*model.Document) error { return p.p.documents(docs) }
func (p *Printer) Reconnect(r *usecase.ReconnectResult) error { return p.p.reconnect(r) }

// ServeHandlerForTest wires the serve command from args and hands its HTTP handler to fn
func ServeHandlerForTest(ctx context.Context, args []string, fn func(http.Handler)) error {
	var cfg appConfig
	cmd := &cli.Command{
		Name:  "serve-test",
		Flags: cfg.Flags(pipelineNeeds),
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := cfg.build(ctx, c, pipelineNeeds)
			if err != nil {
				return err
			}
			defer a.Close()

			h, err := a.handler("test")
			if err != nil {
				return err
			}
			fn(h)
			return nil
		},
	}
	return cmd.Run(ctx, append([]string{"serve-test"}, args...))
}
