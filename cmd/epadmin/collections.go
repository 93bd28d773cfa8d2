package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deductiv/export-everything-sub000/internal/record"
	"github.com/deductiv/export-everything-sub000/internal/syncengine"
)

const (
	collectionsExample = `# List the HEC destinations
epadmin collections list ep_hec

# Add an S3 profile and make it the default
epadmin collections add ep_aws_s3 --set alias=logs --set default_s3_bucket=logs --set default=true

# Store a credential
epadmin collections add passwords --set realm=aws --set username=AKIA... --set password=...`
)

func (c *cli) newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"coll"},
		Short:   "Manage configuration collections",
		Example: collectionsExample,
	}
	cmd.AddCommand(
		c.newCollectionsNamesCmd(),
		c.newCollectionsListCmd(),
		c.newCollectionsAddCmd(),
		c.newCollectionsUpdateCmd(),
		c.newCollectionsDeleteCmd(),
	)
	return cmd
}

func (c *cli) newCollectionsNamesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "names",
		Short: "List the known collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := record.Names()
			if ok, err := c.print(names); ok {
				return err
			}
			rows := make([][]string, 0, len(names))
			for _, n := range names {
				s, _ := record.Lookup(n)
				rows = append(rows, []string{n, strings.Join(s.ColumnNames(), ",")})
			}
			return c.printTable([]string{"COLLECTION", "COLUMNS"}, rows)
		},
	}
}

func (c *cli) newCollectionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list COLLECTION",
		Short: "List the records of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *syncengine.Engine) error {
				coll, err := e.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printCollection(coll)
			})
		},
	}
}

func (c *cli) newCollectionsAddCmd() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "add COLLECTION --set FIELD=VALUE...",
		Short: "Add a record",
		Long:  "Add a record. A record added with default=true becomes the only default of its collection.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(e *syncengine.Engine) error {
				current, err := e.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				next, err := e.Add(cmd.Context(), current, record.New("", fields))
				if err != nil {
					return err
				}
				return c.printRecords(next.Name, next.Records[len(next.Records)-1:])
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field assignment FIELD=VALUE (repeatable)")
	return cmd
}

func (c *cli) newCollectionsUpdateCmd() *cobra.Command {
	var (
		sets   []string
		unsets []string
	)
	cmd := &cobra.Command{
		Use:   "update COLLECTION KEY --set FIELD=VALUE...",
		Short: "Update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseAssignments(sets)
			if err != nil {
				return err
			}
			return c.withEngine(cmd.Context(), func(e *syncengine.Engine) error {
				current, err := e.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				previous, ok := current.Find(args[1])
				if !ok {
					return fmt.Errorf("no record %q in %s", args[1], args[0])
				}
				updated := previous.Clone()
				for k, v := range fields {
					updated.Fields[k] = v
				}
				for _, k := range unsets {
					updated.Fields[k] = ""
				}
				next, err := e.Update(cmd.Context(), current, updated, previous)
				if err != nil {
					return err
				}
				rec, _ := next.Find(previous.Key)
				return c.printRecords(next.Name, []record.Record{rec})
			})
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field assignment FIELD=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&unsets, "clear", nil, "field to blank (repeatable)")
	return cmd
}

func (c *cli) newCollectionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete COLLECTION KEY",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd.Context(), func(e *syncengine.Engine) error {
				current, err := e.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rec, ok := current.Find(args[1])
				if !ok {
					return fmt.Errorf("no record %q in %s", args[1], args[0])
				}
				_, err = e.Delete(cmd.Context(), current, rec)
				return err
			})
		},
	}
}

func (c *cli) printCollection(coll record.Collection) error {
	if ok, err := c.print(coll); ok {
		return err
	}
	return c.printRecords(coll.Name, coll.Records)
}

func (c *cli) printRecords(collection string, recs []record.Record) error {
	if ok, err := c.print(recs); ok {
		return err
	}
	schema, err := record.Lookup(collection)
	if err != nil {
		return err
	}
	columns := schema.ColumnNames()
	headers := []string{strings.ToUpper(record.FieldStanza)}
	for _, col := range columns {
		headers = append(headers, strings.ToUpper(col))
	}
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		row := []string{r.Key}
		for _, col := range columns {
			v := r.String(col)
			if col == record.FieldPassword && v != "" {
				v = "********"
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return c.printTable(headers, rows)
}

// parseAssignments turns FIELD=VALUE flags into record fields.
func parseAssignments(sets []string) (map[string]any, error) {
	fields := make(map[string]any, len(sets))
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid assignment %q, want FIELD=VALUE", s)
		}
		fields[k] = v
	}
	return fields, nil
}
