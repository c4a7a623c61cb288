package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ipfs/go-cid"
	badger4 "github.com/ipfs/go-ds-badger4"
	"github.com/urfave/cli/v2"

	"atmst/blockstore"
	"atmst/mst"
)

const (
	defaultDataDir = "./.mstdata"
	appName        = "mstcli"
	appVersion     = "1.0.0"
)

// App bundles the disk store and current tree root a CLI invocation
// operates on. Each invocation opens the store fresh and closes it on
// exit; the CLI is not a long-lived server.
type App struct {
	store *blockstore.DiskStore
	tree  *mst.Tree
}

func openApp(c *cli.Context) (*App, error) {
	dataDir := c.String("data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := blockstore.NewDiskStore(dataDir, 1000, &badger4.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var root cid.Cid
	if s := c.String("root"); s != "" {
		root, err = cid.Decode(s)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("parse root cid: %w", err)
		}
	}

	tree, err := mst.Load(c.Context, store, root)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load tree: %w", err)
	}
	return &App{store: store, tree: tree}, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

func main() {
	app := &cli.App{
		Name:     appName,
		Version:  appVersion,
		Usage:    "inspect and mutate a merkle search tree block store",
		Compiled: time.Now(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Value:   defaultDataDir,
				Usage:   "block store directory",
				EnvVars: []string{"MSTCLI_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "root CID to operate on (empty tree if omitted)",
				EnvVars: []string{"MSTCLI_ROOT"},
			},
		},
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			listCommand(),
			rootCommand(),
			diffCommand(),
			carExportCommand(),
			carImportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "insert or update a key",
		ArgsUsage: "<key> <value-cid>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("put requires <key> <value-cid>", 1)
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			valueCID, err := cid.Decode(c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("parse value cid: %w", err)
			}
			newRoot, err := a.tree.Add(c.Context, c.Args().Get(0), valueCID)
			if err != nil {
				return err
			}
			fmt.Println(newRoot)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "look up a key",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("get requires <key>", 1)
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			value, ok, err := a.tree.Get(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if !ok {
				return cli.Exit("key not found", 1)
			}
			fmt.Println(value)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "remove a key",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("delete requires <key>", 1)
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			newRoot, removed, err := a.tree.Delete(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(os.Stderr, "key not present")
			}
			fmt.Println(newRoot)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list all entries in key order",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			it := a.tree.Iterator(c.Context)
			for it.Next() {
				e := it.Entry()
				fmt.Printf("%s\t%s\n", e.Key, e.Value)
			}
			return it.Err()
		},
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "root",
		Usage: "print the current root CID, persisting if needed",
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			root, err := a.tree.Root(c.Context)
			if err != nil {
				return err
			}
			fmt.Println(root)
			return nil
		},
	}
}

func diffCommand() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "diff the current root against another root",
		ArgsUsage: "<other-root-cid>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("diff requires <other-root-cid>", 1)
			}
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			otherRoot, err := cid.Decode(c.Args().First())
			if err != nil {
				return fmt.Errorf("parse other root cid: %w", err)
			}
			otherTree, err := mst.Load(c.Context, a.store, otherRoot)
			if err != nil {
				return err
			}
			result, err := mst.Diff(c.Context, a.tree, otherTree)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

func carExportCommand() *cli.Command {
	return &cli.Command{
		Name:   "car-export",
		Usage:  "export the tree rooted at --root to a CAR file",
		Action: carExportAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "output CAR file",
				Required: true,
			},
		},
	}
}

func carExportAction(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	root, err := a.tree.Root(c.Context)
	if err != nil {
		return err
	}
	out, err := os.Create(c.String("output"))
	if err != nil {
		return err
	}
	defer out.Close()
	return blockstore.ExportCAR(c.Context, a.store, root, out)
}

func carImportCommand() *cli.Command {
	return &cli.Command{
		Name:   "car-import",
		Usage:  "import blocks from a CAR file, printing its declared roots",
		Action: carImportAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "input CAR file",
				Required: true,
			},
		},
	}
}

func carImportAction(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	in, err := os.Open(c.String("input"))
	if err != nil {
		return err
	}
	defer in.Close()

	roots, err := blockstore.ImportCAR(c.Context, a.store, in)
	if err != nil {
		return err
	}
	for _, r := range roots {
		fmt.Println(r)
	}
	return nil
}
