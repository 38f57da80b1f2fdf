// Package store persists detected faces and chosen crops per wallpaper.
package store

import (
	"fmt"
	"maps"

	"github.com/menta2k/wallcrop/pkg/cropper"
	"github.com/menta2k/wallcrop/pkg/geometry"
)

// Record is everything stored for one wallpaper. Geometries holds the crops
// that were computed or adjusted, keyed by resolution name.
type Record struct {
	Filename   string
	Width      int
	Height     int
	Faces      []geometry.Face
	Geometries map[string]geometry.Geometry
}

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := r
	out.Faces = append([]geometry.Face(nil), r.Faces...)
	out.Geometries = maps.Clone(r.Geometries)
	if out.Geometries == nil {
		out.Geometries = map[string]geometry.Geometry{}
	}
	return out
}

// Cropper builds a cropper for the stored image size and faces
func (r Record) Cropper() (*cropper.Cropper, error) {
	return cropper.New(r.Width, r.Height, r.Faces)
}

// Geometry returns the stored crop for res, or the computed default when
// none is stored
func (r Record) Geometry(res geometry.Resolution) (geometry.Geometry, error) {
	if g, ok := r.Geometries[res.Name]; ok {
		return g, nil
	}
	c, err := r.Cropper()
	if err != nil {
		return geometry.Geometry{}, err
	}
	return crop(c, res)
}

// crop computes the default crop for res, failing for ratios the image
// cannot hold
func crop(c *cropper.Cropper, res geometry.Resolution) (geometry.Geometry, error) {
	if err := c.Check(res.Ratio); err != nil {
		return geometry.Geometry{}, fmt.Errorf("%s: %w", res.Name, err)
	}
	return c.Crop(res.Ratio), nil
}

// SetGeometry stores a crop for the named resolution
func (r *Record) SetGeometry(name string, g geometry.Geometry) {
	if r.Geometries == nil {
		r.Geometries = map[string]geometry.Geometry{}
	}
	r.Geometries[name] = g
}

// Direction returns the free axis of g within this image
func (r Record) Direction(g geometry.Geometry) geometry.Direction {
	return g.Direction(r.Width, r.Height)
}

// IsDefaultCrops reports whether every resolution still uses the computed crop
func (r Record) IsDefaultCrops(resolutions []geometry.Resolution) (bool, error) {
	c, err := r.Cropper()
	if err != nil {
		return false, err
	}
	for _, res := range resolutions {
		g, ok := r.Geometries[res.Name]
		if !ok {
			continue
		}
		def, err := crop(c, res)
		if err != nil {
			return false, err
		}
		if g != def {
			return false, nil
		}
	}
	return true, nil
}

// AddResolution stores a crop for a newly configured resolution. The crop
// follows a hand adjusted crop of the closest resolution when both slide
// along the same axis; otherwise the computed default is used. It reports
// whether the stored crop differs from the default. Records that already
// hold a crop for res are left untouched.
func (r *Record) AddResolution(res geometry.Resolution, closest *geometry.Resolution) (bool, error) {
	if _, ok := r.Geometries[res.Name]; ok {
		return false, nil
	}

	c, err := r.Cropper()
	if err != nil {
		return false, err
	}

	def, err := crop(c, res)
	if err != nil {
		return false, err
	}
	r.SetGeometry(res.Name, def)
	if closest == nil {
		return false, nil
	}

	// a closest ratio the image cannot hold has no crop to follow
	closestDefault, err := crop(c, *closest)
	if err != nil {
		return false, nil
	}
	adjusted, ok := r.Geometries[closest.Name]
	if !ok || adjusted == closestDefault {
		return false, nil
	}

	dir := r.Direction(def)
	if r.Direction(adjusted) != dir {
		return false, nil
	}

	start, end := adjusted.Bounds(dir)
	lo, hi := def.Bounds(dir)
	mid := float64(start) + float64(end-start)/2
	centered := c.Clamp(mid-float64(hi-lo)/2, dir, def.W, def.H)

	r.SetGeometry(res.Name, centered)
	return centered != def, nil
}
