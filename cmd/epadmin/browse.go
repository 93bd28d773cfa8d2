package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/record"
	"github.com/deductiv/export-everything-sub000/internal/recordstore"
	"github.com/deductiv/export-everything-sub000/internal/storage"
	"github.com/deductiv/export-everything-sub000/internal/syncengine"
)

const browseExample = `# Open the default S3 profile at its bucket
epadmin browse --collection ep_aws_s3 --state s3.yaml

# Descend into a folder, then jump back to an ancestor
epadmin browse --collection ep_aws_s3 --alias logs --folder /logs/2024/ --state s3.yaml
epadmin browse --collection ep_aws_s3 --alias logs --folder /logs/ --state s3.yaml`

type browseOptions struct {
	collection  string
	alias       string
	container   string
	folder      string
	statePath   string
	noContainer bool
}

func (c *cli) newBrowseCmd() *cobra.Command {
	var o browseOptions
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List a folder of a profile's storage",
		Long: `List a folder of a profile's storage.

--folder takes a path ("/bucket/a/b/") or a numeric folder id ("12345/"). With --state the
breadcrumb chain and listing are kept in a YAML file, so ancestors and folder ids of the
previous listing resolve without another lookup.`,
		Example: browseExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.browse(cmd.Context(), o)
		},
	}
	cmd.Flags().StringVar(&o.collection, "collection", "", "profile collection, e.g. ep_aws_s3")
	cmd.Flags().StringVar(&o.alias, "alias", "", "profile alias (default profile if empty)")
	cmd.Flags().StringVar(&o.container, "container", "", "top-level container (defaults to the profile's bucket, container or share)")
	cmd.Flags().StringVar(&o.folder, "folder", "", "folder path or id to open")
	cmd.Flags().StringVar(&o.statePath, "state", "", "YAML file holding the current chain and listing")
	cmd.Flags().BoolVar(&o.noContainer, "no-container", false, "do not add the container to the chain")
	cmd.MarkFlagRequired("collection")
	return cmd
}

func (c *cli) browse(ctx context.Context, o browseOptions) error {
	state, err := loadState(o.statePath)
	if err != nil {
		return err
	}

	store, err := recordstore.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if o.container == "" {
		if o.container, err = c.profileContainer(ctx, store, o.collection, o.alias); err != nil {
			return err
		}
	}

	var lister gateway.DirectoryLister = store.Remote
	if lister == nil {
		router := storage.NewRouter(store, c.cfg.App, storage.NewFactory(c.cfg.SMBMountRoot))
		defer router.Close()
		lister = router
	}

	schema, err := browser.NewEnvelopeSchema(c.cfg.ListingPayloadPaths, c.cfg.ListingErrorPaths, c.cfg.ListingStatusPaths)
	if err != nil {
		return err
	}
	b := browser.New(lister, browser.WithEnvelopeSchema(schema), browser.WithTimeout(c.cfg.EAITimeout))

	view, err := b.ShowFolder(ctx, browser.Request{
		Collection:      o.collection,
		Alias:           o.alias,
		Container:       o.container,
		Descriptor:      browser.ParseDescriptor(o.folder),
		Options:         browser.ChainOptions{SuppressContainer: o.noContainer},
		PreviousChain:   state.Chain,
		PreviousListing: state.Listing,
	})
	if err != nil {
		return err
	}

	if err := saveState(o.statePath, view); err != nil {
		return err
	}
	return c.printView(view)
}

// profileContainer returns the container configured on the selected profile.
func (c *cli) profileContainer(ctx context.Context, store gateway.RecordStore, collection, alias string) (string, error) {
	coll, err := syncengine.New(store, c.cfg.App).Refresh(ctx, collection)
	if err != nil {
		return "", err
	}
	var rec record.Record
	var ok bool
	if alias == "" || alias == "default" {
		rec, ok = coll.Default()
	} else {
		rec, ok = coll.FindBy(record.FieldAlias, alias)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", storage.ErrUnknownProfile, collection, alias)
	}
	return rec.Container(), nil
}

func (c *cli) printView(view browser.View) error {
	if ok, err := c.print(view); ok {
		return err
	}

	names := make([]string, 0, len(view.Chain))
	for _, n := range view.Chain {
		names = append(names, n.Name)
	}
	fmt.Fprintf(c.out, "Path: %s\n\n", strings.Join(names, " > "))

	rows := make([][]string, 0, len(view.Listing))
	for _, f := range view.Listing {
		kind := "file"
		if f.IsDir() {
			kind = "dir"
		}
		rows = append(rows, []string{f.Name(), kind, stringField(f, "size"), stringField(f, "modDate"), f.ID()})
	}
	return c.printTable([]string{"NAME", "TYPE", "SIZE", "MODIFIED", "ID"}, rows)
}

func stringField(f browser.FileEntry, k string) string {
	if v, ok := f[k]; ok {
		return record.Stringify(v)
	}
	return ""
}

func loadState(path string) (browser.View, error) {
	var view browser.View
	if path == "" {
		return view, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return view, nil
	}
	if err != nil {
		return view, fmt.Errorf("read state: %w", err)
	}
	if err := yaml.Unmarshal(data, &view); err != nil {
		return view, fmt.Errorf("parse state %s: %w", path, err)
	}
	return view, nil
}

func saveState(path string, view browser.View) error {
	if path == "" {
		return nil
	}
	data, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
