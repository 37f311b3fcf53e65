package vision

import "image"

func preprocessForDetection(img image.Image, w, h int) []float32 {
	return imageToCHW(img, w, h, 127.5, 128.0)
}

func preprocessForEmbedding(img image.Image, w, h int) []float32 {
	return imageToCHW(img, w, h, 127.5, 127.5)
}

// imageToCHW resizes img and lays it out as normalized planar RGB:
//
//	value = (pixel - mean) / std
func imageToCHW(img image.Image, w, h int, mean, std float32) []float32 {
	resized := resizeNearest(img, w, h)
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			idx := y*w + x
			data[idx] = (float32(resized.Pix[off]) - mean) / std
			data[plane+idx] = (float32(resized.Pix[off+1]) - mean) / std
			data[2*plane+idx] = (float32(resized.Pix[off+2]) - mean) / std
		}
	}
	return data
}

func resizeNearest(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, img.At(b.Min.X+x*srcW/w, b.Min.Y+y*srcH/h))
		}
	}
	return dst
}

// cropFace cuts bbox out of img with 10% padding on each side, clamped to
// the image. It returns nil for an empty box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			crop.Set(x-r.Min.X, y-r.Min.Y, img.At(x, y))
		}
	}
	return crop
}
