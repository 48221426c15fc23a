//go:build !unix

package bitmap

import "image"

const mappingSupported = false

func allocateMapped(_ FileCreator, w, h int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}
