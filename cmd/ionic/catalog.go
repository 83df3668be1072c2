package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/Neumenon/ionic/catalog"
)

// catalogCommand manages the persistent shared symbol table catalog.
type catalogCommand struct {
	g *globals

	addFiles *[]string
	rmName   *string
	rmVer    *int
}

func addCatalogCommand(app *kingpin.Application, g *globals) {
	cmd := &catalogCommand{g: g}
	c := app.Command("catalog", "Manage the persistent shared symbol table catalog.")

	add := c.Command("add", "Store the shared tables of YAML definition files.").Action(cmd.add)
	cmd.addFiles = add.Arg("file", "Definition files.").Required().ExistingFiles()

	c.Command("list", "List stored shared tables.").Default().Action(cmd.list)

	rm := c.Command("remove", "Delete one version of a shared table.").Action(cmd.remove)
	cmd.rmName = rm.Arg("name", "Table name.").Required().String()
	cmd.rmVer = rm.Arg("version", "Table version.").Required().Int()
}

func (cmd *catalogCommand) open(readOnly bool) (*catalog.Bolt, error) {
	b, err := cmd.g.openCatalog(readOnly)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("no catalog configured: use --catalog or the catalog config key")
	}
	return b, nil
}

func (cmd *catalogCommand) add(*kingpin.ParseContext) error {
	b, err := cmd.open(false)
	if err != nil {
		return err
	}
	for _, name := range *cmd.addFiles {
		defs, err := catalog.LoadDefinitionsFile(name)
		if err != nil {
			return err
		}
		if err := b.Put(defs.Tables...); err != nil {
			return errors.Wrap(err, name)
		}
		for _, t := range defs.Tables {
			level.Info(cmd.g.logger).Log("msg", "stored shared table", "name", t.Name(), "version", t.Version(), "max_id", t.MaxID())
		}
		if len(defs.Macros) > 0 {
			level.Warn(cmd.g.logger).Log("msg", "macros are not stored in the catalog", "file", name, "macros", len(defs.Macros))
		}
	}
	return nil
}

func (cmd *catalogCommand) list(*kingpin.ParseContext) error {
	b, err := cmd.open(true)
	if err != nil {
		return err
	}
	infos, err := b.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tMAX_ID\tSIZE")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", info.Name, info.Version, info.MaxID, humanize.Bytes(uint64(info.Size)))
	}
	return tw.Flush()
}

func (cmd *catalogCommand) remove(*kingpin.ParseContext) error {
	b, err := cmd.open(false)
	if err != nil {
		return err
	}
	return b.Delete(*cmd.rmName, *cmd.rmVer)
}
