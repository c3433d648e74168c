package cli

import (
	"context"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/cli/config"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/urfave/cli/v3"
)

func documentIDArg(c *cli.Command) (model.DocumentID, error) {
	if c.Args().Len() == 0 {
		return "", goerr.Wrap(config.ErrMissingArgument, "document ID is required", goerr.V(config.FlagKey, "id"))
	}
	return model.DocumentID(c.Args().First()), nil
}

func cmdList() *cli.Command {
	var cfg appConfig
	var limit, offset int
	var asJSON bool

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of documents",
			Value:       usecase.DefaultListLimit,
			Destination: &limit,
		},
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Number of documents to skip",
			Destination: &offset,
		},
		jsonFlag(&asJSON),
	}
	flags = append(flags, cfg.Flags(needs{})...)

	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List stored documents, newest first",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := cfg.build(ctx, c, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.uc.Document.List(ctx, limit, offset)
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).documents(docs)
		},
	}
}

func cmdGet() *cli.Command {
	var cfg appConfig
	var asJSON bool

	flags := []cli.Flag{jsonFlag(&asJSON)}
	flags = append(flags, cfg.Flags(needs{})...)

	return &cli.Command{
		Name:      "get",
		Usage:     "Show a document with its instructions",
		ArgsUsage: "<document-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := documentIDArg(c)
			if err != nil {
				return err
			}

			a, err := cfg.build(ctx, c, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			detail, err := a.uc.Document.Get(ctx, id)
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).detail(detail)
		},
	}
}

func cmdSearch() *cli.Command {
	var cfg appConfig
	var searchType string
	var limit int
	var asJSON bool
	searchNeeds := needs{gemini: true}

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "What to search: documents or instructions",
			Value:       string(model.SearchDocuments),
			Destination: &searchType,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of results",
			Value:       usecase.DefaultSearchLimit,
			Destination: &limit,
		},
		jsonFlag(&asJSON),
	}
	flags = append(flags, cfg.Flags(searchNeeds)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Find documents or instructions similar to a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.Wrap(config.ErrMissingArgument, "query is required", goerr.V(config.FlagKey, "query"))
			}

			a, err := cfg.build(ctx, c, searchNeeds)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.uc.Document.Search(ctx, usecase.SearchInput{
				Query: query,
				Type:  model.SearchType(searchType),
				Limit: limit,
			})
			if err != nil {
				return err
			}
			return newPrinter(c, asJSON).search(result)
		},
	}
}

func cmdDelete() *cli.Command {
	var cfg appConfig
	var yes, asJSON bool

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Delete without asking for confirmation",
			Destination: &yes,
		},
		jsonFlag(&asJSON),
	}
	flags = append(flags, cfg.Flags(needs{})...)

	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete a document and its instructions",
		ArgsUsage: "<document-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := documentIDArg(c)
			if err != nil {
				return err
			}

			p := newPrinter(c, asJSON)
			if !yes {
				in := c.Root().Reader
				if in == nil {
					in = os.Stdin
				}
				if !confirm(in, p.w, "Delete document "+id.String()+"?") {
					warnColor.Fprintln(p.w, "Aborted")
					return nil
				}
			}

			a, err := cfg.build(ctx, c, needs{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.uc.Document.Delete(ctx, id); err != nil {
				return err
			}
			return p.deleted(id)
		},
	}
}
