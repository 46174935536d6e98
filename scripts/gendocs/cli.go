package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/regexcorpus/internal/cli"
	"github.com/leapstack-labs/regexcorpus/internal/cli/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// pipeline lists the commands of a full corpus run in order.
var pipeline = [][2]string{
	{"init", "create the config file and an empty corpus"},
	{"ingest", "load extraction results into the corpus"},
	{"combine", "merge corpus shards built on several machines"},
	{"gen-dfas", "compile every pattern into a DFA store"},
	{"gen-test-suites", "derive positive and negative examples from runtime subjects"},
	{"evaluate", "run a candidate regex against the test suites"},
}

// documented returns the subcommands of cmd that get reference pages.
func documented(cmd *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, c := range cmd.Commands() {
		if c.Hidden || !c.IsAvailableCommand() || c.Name() == "help" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// pageName is the file stem for a command: "query schema" becomes
// "query-schema".
func pageName(cmd *cobra.Command) string {
	path := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
	return strings.ReplaceAll(path, " ", "-")
}

// generateCLIDocs writes index.md plus one page per command and subcommand.
func generateCLIDocs(outDir string) error {
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("create %s: %w", outDir, err)
	}

	root := cli.NewRootCmd()
	pages := map[string][]byte{"index": cliIndex(root)}

	var walk func(*cobra.Command)
	walk = func(parent *cobra.Command) {
		for _, c := range documented(parent) {
			pages[pageName(c)] = commandPage(c)
			walk(c)
		}
	}
	walk(root)

	for name, body := range pages {
		if err := os.WriteFile(filepath.Join(outDir, name+".md"), body, 0600); err != nil {
			return err
		}
		log.Printf("  wrote %s.md", name)
	}
	return nil
}

func cliIndex(root *cobra.Command) []byte {
	w := NewMarkdownWriter()
	w.Frontmatter("CLI Reference", "Command-line reference for "+root.Name())
	w.GeneratedMarker()

	w.Header(1, "CLI Reference")
	w.Paragraph(root.Long)
	w.CodeBlock("bash", "go install github.com/leapstack-labs/regexcorpus/cmd/regexcorpus@latest")

	w.Header(2, "Pipeline")
	steps := make([]string, 0, len(pipeline))
	for i, p := range pipeline {
		steps = append(steps, fmt.Sprintf("%d. [%s](/cli/%s): %s", i+1, InlineCode(p[0]), p[0], p[1]))
	}
	w.Paragraph(strings.Join(steps, "\n"))

	w.Header(2, "Commands")
	var rows [][]string
	for _, c := range documented(root) {
		rows = append(rows, []string{
			fmt.Sprintf("[%s](/cli/%s)", InlineCode(c.Name()), pageName(c)),
			cleanDescription(c.Short),
		})
	}
	w.Table([]string{"Command", "Description"}, rows)

	w.Header(2, "Global Options")
	w.Table(flagHeaders, flagRows(root.PersistentFlags()))

	w.Header(2, "Environment")
	w.Paragraph(fmt.Sprintf("Each configuration key may be set through a %s variable; a double "+
		"underscore separates nested keys. Flags override the environment, which overrides "+
		"the config file. See [configuration](/configuration).", InlineCode(config.EnvPrefix+"*")))
	var env [][]string
	for _, f := range configFields() {
		env = append(env, []string{InlineCode(envName(f.Name)), InlineCode(f.Name)})
	}
	w.Table([]string{"Variable", "Key"}, env)

	w.Header(2, "Exit Status")
	w.Paragraph(root.Name() + " exits 0 on success and 1 on any error, including a " +
		"combine run in which some shard failed to merge.")
	return w.Bytes()
}

func commandPage(cmd *cobra.Command) []byte {
	w := NewMarkdownWriter()
	title := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
	w.Frontmatter(title, cmd.Short)
	w.GeneratedMarker()

	w.Header(1, title)
	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	w.Paragraph(desc)

	w.Header(2, "Usage")
	usage := cmd.UseLine()
	if cmd.HasAvailableSubCommands() && !cmd.Runnable() {
		usage = cmd.CommandPath() + " <subcommand>"
	}
	w.CodeBlock("bash", usage)

	if len(cmd.Aliases) > 0 {
		aliases := make([]string, len(cmd.Aliases))
		for i, a := range cmd.Aliases {
			aliases[i] = InlineCode(a)
		}
		w.Header(2, "Aliases")
		w.BulletList(aliases)
	}

	if subs := documented(cmd); len(subs) > 0 {
		var rows [][]string
		for _, s := range subs {
			rows = append(rows, []string{
				fmt.Sprintf("[%s](/cli/%s)", InlineCode(s.Name()), pageName(s)),
				cleanDescription(s.Short),
			})
		}
		w.Header(2, "Subcommands")
		w.Table([]string{"Subcommand", "Description"}, rows)
	}

	if rows := flagRows(cmd.LocalFlags()); len(rows) > 0 {
		w.Header(2, "Options")
		w.Table(flagHeaders, rows)
	}
	if rows := flagRows(cmd.InheritedFlags()); len(rows) > 0 {
		w.Header(2, "Inherited Options")
		w.Table(flagHeaders, rows)
	}

	if cmd.Example != "" {
		w.Header(2, "Examples")
		w.CodeBlock("bash", dedent(cmd.Example))
	}
	return w.Bytes()
}

var flagHeaders = []string{"Option", "Default", "Description"}

func flagRows(fs *pflag.FlagSet) [][]string {
	var rows [][]string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		opt := InlineCode("--" + f.Name)
		if f.Shorthand != "" {
			opt = InlineCode("-"+f.Shorthand) + ", " + opt
		}
		def := f.DefValue
		switch f.Value.Type() {
		case "bool":
			if def == "false" {
				def = ""
			}
		case "stringSlice", "stringArray":
			if def == "[]" {
				def = ""
			}
		}
		if def != "" {
			def = InlineCode(def)
		}
		rows = append(rows, []string{opt, def, cleanDescription(f.Usage)})
	})
	return rows
}

// dedent strips the indentation shared by every non-blank line.
func dedent(s string) string {
	lines := strings.Split(strings.Trim(s, "\n"), "\n")
	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	for i, l := range lines {
		if len(l) >= indent && indent > 0 {
			lines[i] = l[indent:]
		}
	}
	return strings.Join(lines, "\n")
}
