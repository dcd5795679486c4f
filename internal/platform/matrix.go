package platform

import "math"

// Mat4 is a column-major 4x4 matrix.
type Mat4 [16]float64

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// Mul returns a*b.
func (a Mat4) Mul(b Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

// Translate returns a translation matrix.
func Translate(x, y, z float64) Mat4 {
	m := Identity()
	m[12], m[13], m[14] = x, y, z
	return m
}

// Scale returns a scaling matrix.
func Scale(x, y, z float64) Mat4 {
	m := Identity()
	m[0], m[5], m[10] = x, y, z
	return m
}

// RotateX rotates by rad around the x axis.
func RotateX(rad float64) Mat4 {
	s, c := math.Sincos(rad)
	m := Identity()
	m[5], m[6], m[9], m[10] = c, s, -s, c
	return m
}

// RotateZ rotates by rad around the z axis.
func RotateZ(rad float64) Mat4 {
	s, c := math.Sincos(rad)
	m := Identity()
	m[0], m[1], m[4], m[5] = c, s, -s, c
	return m
}

// Apply transforms the point (x, y, z, 1).
func (a Mat4) Apply(x, y, z float64) (float64, float64, float64) {
	w := a[3]*x + a[7]*y + a[11]*z + a[15]
	if w == 0 {
		w = 1
	}
	return (a[0]*x + a[4]*y + a[8]*z + a[12]) / w,
		(a[1]*x + a[5]*y + a[9]*z + a[13]) / w,
		(a[2]*x + a[6]*y + a[10]*z + a[14]) / w
}

// Finite reports whether every element is a finite number.
func (a Mat4) Finite() bool {
	for _, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
