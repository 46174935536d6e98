// Package main generates markdown reference pages for the regexcorpus CLI and
// its configuration file.
//
//	go run ./scripts/gendocs                     # everything, under docs/
//	go run ./scripts/gendocs -gen=cli -outdir=/tmp/cli
package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"
)

// target is one kind of generated documentation.
type target struct {
	name string
	dir  string // relative to the module root
	run  func(outDir string) error
}

var targets = []target{
	{name: "cli", dir: filepath.Join("docs", "cli"), run: generateCLIDocs},
	{name: "config", dir: "docs", run: generateConfigDocs},
}

func main() {
	gen := flag.String("gen", "all", "what to generate: cli, config or all")
	outDir := flag.String("outdir", "", "output directory; ignored with -gen=all")
	flag.Parse()
	log.SetFlags(0)

	var selected []target
	for _, t := range targets {
		if *gen == "all" || *gen == t.name {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		log.Fatalf("unknown -gen value %q", *gen)
	}

	root, err := moduleRoot()
	if err != nil {
		log.Fatal(err)
	}

	for _, t := range selected {
		dir := filepath.Join(root, t.dir)
		if *outDir != "" && *gen != "all" {
			dir = *outDir
		}
		log.Printf("%s -> %s", t.name, dir)
		if err := t.run(dir); err != nil {
			log.Fatalf("%s: %v", t.name, err)
		}
	}
}

// moduleRoot returns the nearest ancestor of the working directory holding go.mod.
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory")
		}
		dir = parent
	}
}
