package source

import "github.com/hupe1980/svdag/model"

type union struct {
	a, b Source
}

// Union returns a source occupied wherever a or b is. Where both are
// occupied, b's attribute wins.
func Union(a, b Source) Source {
	return union{a: a, b: b}
}

func (u union) Occupied(box model.AABB) bool {
	return u.a.Occupied(box) || u.b.Occupied(box)
}

func (u union) Sample(cell model.AABB) (model.Attribute, bool) {
	if attr, ok := u.b.Sample(cell); ok {
		return attr, true
	}
	return u.a.Sample(cell)
}

func (u union) Uniform(box model.AABB) (model.Attribute, bool) {
	if attr, ok := UniformOf(u.b, box); ok {
		return attr, true
	}
	if attr, ok := UniformOf(u.a, box); ok && !u.b.Occupied(box) {
		return attr, true
	}
	return 0, false
}

type difference struct {
	a, b Source
}

// Difference returns a source occupied where a is and b is not.
func Difference(a, b Source) Source {
	return difference{a: a, b: b}
}

func (d difference) Occupied(box model.AABB) bool {
	if !d.a.Occupied(box) {
		return false
	}
	_, covered := UniformOf(d.b, box)
	return !covered
}

func (d difference) Sample(cell model.AABB) (model.Attribute, bool) {
	if _, ok := d.b.Sample(cell); ok {
		return 0, false
	}
	return d.a.Sample(cell)
}

func (d difference) Uniform(box model.AABB) (model.Attribute, bool) {
	if d.b.Occupied(box) {
		return 0, false
	}
	return UniformOf(d.a, box)
}
