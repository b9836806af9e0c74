package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"

	"upkernel/kernel/loader"
	"upkernel/kernel/loader/image"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkapp] error: %s\n", err.Error())
	os.Exit(1)
}

// imageName maps a manifest URL to the name of the image built from it:
// apps/00_hello.yaml becomes 00_hello.elf.
func imageName(manifestURL string) string {
	name := path.Base(manifestURL)
	for _, ext := range []string{".yaml", ".yml"} {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	return name + loader.ImageExt
}

// buildApps compiles each manifest into an ELF image stored under outURL and
// returns the URLs of the generated images.
func buildApps(ctx context.Context, fs afs.Service, outURL string, manifests []string) ([]string, error) {
	if exists, _ := fs.Exists(ctx, outURL); !exists {
		if err := fs.Create(ctx, outURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", outURL, err)
		}
	}

	var built []string
	for _, manifestURL := range manifests {
		encoded, err := fs.DownloadWithURL(ctx, manifestURL)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest %s: %w", manifestURL, err)
		}

		manifest, err := image.ParseManifest(encoded)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", manifestURL, err)
		}

		img, err := manifest.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", manifestURL, err)
		}

		imageURL := path.Join(outURL, imageName(manifestURL))
		if err = fs.Upload(ctx, imageURL, file.DefaultFileOsMode, bytes.NewReader(img)); err != nil {
			return nil, fmt.Errorf("failed to write image %s: %w", imageURL, err)
		}
		built = append(built, imageURL)
	}

	return built, nil
}

func runTool() error {
	output := flag.String("out", "apps", "the directory (or afs URL) that receives the generated images")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "mkapp: compile YAML program manifests into ELF app images\n\n")
		fmt.Fprint(os.Stderr, "Usage: mkapp [options] manifest...\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		exit(errors.New("missing manifest file argument"))
	}

	built, err := buildApps(context.Background(), afs.New(), *output, flag.Args())
	if err != nil {
		return err
	}

	for _, imageURL := range built {
		fmt.Println(imageURL)
	}
	return nil
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
