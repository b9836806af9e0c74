package loader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
)

// ImageExt is the file extension of app images inside an app directory.
const ImageExt = ".elf"

// Dir is a Loader backed by a directory of ELF images. Any URL supported by
// afs can be used as the directory, e.g. a local path or mem://localhost/apps.
type Dir struct {
	// Names holds the image file names, in app id order.
	Names []string

	images Memory
}

// LoadDir lists every *.elf object directly under url, sorts them by name and
// downloads them. App i is the i-th image in name order.
func LoadDir(ctx context.Context, url string) (*Dir, error) {
	fs := afs.New()

	objects, err := fs.List(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to list app images in %s: %w", url, err)
	}

	var images []storage.Object
	for _, obj := range objects {
		if obj.IsDir() || !strings.HasSuffix(obj.Name(), ImageExt) {
			continue
		}
		images = append(images, obj)
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].Name() < images[j].Name()
	})

	dir := &Dir{
		Names:  make([]string, 0, len(images)),
		images: make(Memory, 0, len(images)),
	}
	for _, obj := range images {
		data, err := fs.Download(ctx, obj)
		if err != nil {
			return nil, fmt.Errorf("failed to read app image %s: %w", obj.URL(), err)
		}
		dir.Names = append(dir.Names, obj.Name())
		dir.images = append(dir.images, data)
	}

	return dir, nil
}

// NumApp implements Loader.
func (d *Dir) NumApp() int {
	return d.images.NumApp()
}

// AppData implements Loader.
func (d *Dir) AppData(i int) []byte {
	return d.images.AppData(i)
}
