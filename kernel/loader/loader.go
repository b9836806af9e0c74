// Package loader supplies the app images that the kernel runs.
package loader

// Loader provides the raw ELF images of the apps to run. Images are
// numbered from 0 to NumApp()-1 and are run in that order.
type Loader interface {
	// NumApp returns the number of available apps.
	NumApp() int

	// AppData returns the image of app i.
	AppData(i int) []byte
}

// Memory is a Loader that serves images held in memory.
type Memory [][]byte

// NumApp implements Loader.
func (m Memory) NumApp() int {
	return len(m)
}

// AppData implements Loader.
func (m Memory) AppData(i int) []byte {
	return m[i]
}
