package scene

import "math"

// Type identifies an SDF primitive kind. Values match the shader dispatch
// table, so they are part of the wire format.
type Type uint32

// 2D primitives.
const (
	TypeCircle              Type = 0
	TypeBox                 Type = 1
	TypeSegment             Type = 2
	TypeTriangle            Type = 3
	TypeBezier2             Type = 4
	TypeBezier3             Type = 5
	TypeEllipse             Type = 6
	TypeArc                 Type = 7
	TypeRoundedBox          Type = 8
	TypeRhombus             Type = 9
	TypePentagon            Type = 10
	TypeHexagon             Type = 11
	TypeStar                Type = 12
	TypePie                 Type = 13
	TypeRing                Type = 14
	TypeHeart               Type = 15
	TypeCross               Type = 16
	TypeRoundedX            Type = 17
	TypeCapsule             Type = 18
	TypeMoon                Type = 19
	TypeEgg                 Type = 20
	TypeChamferBox          Type = 21
	TypeOrientedBox         Type = 22
	TypeTrapezoid           Type = 23
	TypeParallelogram       Type = 24
	TypeEquilateralTriangle Type = 25
	TypeIsoscelesTriangle   Type = 26
	TypeUnevenCapsule       Type = 27
	TypeOctogon             Type = 28
	TypeHexagram            Type = 29
	TypePentagram           Type = 30
	TypeCutDisk             Type = 31
	TypeHorseshoe           Type = 32
	TypeVesica              Type = 33
	TypeOrientedVesica      Type = 34
	TypeRoundedCross        Type = 35
	TypeParabola            Type = 36
	TypeBlobbyCross         Type = 37
	TypeTunnel              Type = 38
	TypeStairs              Type = 39
	TypeQuadraticCircle     Type = 40
	TypeHyperbola           Type = 41
	TypeCoolS               Type = 42
	TypeCircleWave          Type = 43
	TypeColorWheel          Type = 44
)

// Text glyph primitives (glyphs rendered through the primitive path).
const (
	TypeTextGlyph    Type = 64
	TypeRotatedGlyph Type = 65
)

// 3D primitives. These render through raymarching and never enter the
// spatial grid.
const (
	TypeSphere3D          Type = 100
	TypeBox3D             Type = 101
	TypeTorus3D           Type = 103
	TypeCylinder3D        Type = 105
	TypeVerticalCapsule3D Type = 108
	TypeCappedCone3D      Type = 110
	TypeOctahedron3D      Type = 115
	TypePyramid3D         Type = 116
	TypeEllipsoid3D       Type = 117
)

// Special primitives.
const (
	TypePlot  Type = 128
	TypeImage Type = 129
)

// type3DThreshold separates 2D primitives from raymarched ones.
const type3DThreshold Type = 100

// Is3D reports whether the primitive is raymarched rather than gridded.
func (t Type) Is3D() bool { return t >= type3DThreshold && t < TypePlot }

// geomWords gives the number of geometry parameter words per type. The
// serialized form is [type, layer, geometry..., fill, stroke, strokeWidth,
// round] except for TypePlot and TypeImage, which carry their own trailers.
var geomWords = map[Type]int{
	TypeCircle:              3,
	TypeBox:                 4,
	TypeSegment:             4,
	TypeTriangle:            6,
	TypeBezier2:             6,
	TypeBezier3:             8,
	TypeEllipse:             4,
	TypeArc:                 6,
	TypeRoundedBox:          8,
	TypeRhombus:             4,
	TypePentagon:            3,
	TypeHexagon:             3,
	TypeStar:                5,
	TypePie:                 5,
	TypeRing:                6,
	TypeHeart:               3,
	TypeCross:               5,
	TypeRoundedX:            4,
	TypeCapsule:             5,
	TypeMoon:                5,
	TypeEgg:                 4,
	TypeChamferBox:          5,
	TypeOrientedBox:         5,
	TypeTrapezoid:           5,
	TypeParallelogram:       5,
	TypeEquilateralTriangle: 3,
	TypeIsoscelesTriangle:   4,
	TypeUnevenCapsule:       5,
	TypeOctogon:             3,
	TypeHexagram:            3,
	TypePentagram:           3,
	TypeCutDisk:             4,
	TypeHorseshoe:           7,
	TypeVesica:              4,
	TypeOrientedVesica:      5,
	TypeRoundedCross:        3,
	TypeParabola:            3,
	TypeBlobbyCross:         3,
	TypeTunnel:              4,
	TypeStairs:              5,
	TypeQuadraticCircle:     3,
	TypeHyperbola:           4,
	TypeCoolS:               3,
	TypeCircleWave:          4,
	TypeColorWheel:          8,
	TypeTextGlyph:           5,
	TypeRotatedGlyph:        8,
	TypeSphere3D:            4,
	TypeBox3D:               6,
	TypeTorus3D:             5,
	TypeCylinder3D:          5,
	TypeVerticalCapsule3D:   5,
	TypeCappedCone3D:        6,
	TypeOctahedron3D:        4,
	TypePyramid3D:           4,
	TypeEllipsoid3D:         6,
	TypePlot:                8,
	TypeImage:               8,
}

// uintParams lists geometry parameter indices whose wire representation is
// a raw u32 rather than f32 bits (glyph and plot bookkeeping fields).
var uintParams = map[Type][]int{
	TypeTextGlyph:    {4},
	TypeRotatedGlyph: {5},
	TypePlot:         {4, 7},
	TypeImage:        {4, 5, 6, 7},
}

// MaxParams is the widest geometry parameter set of any primitive type.
const MaxParams = 8

// Primitive is one SDF shape in a card's scene.
//
// Params holds the geometry fields in wire order (centers, radii, control
// points) for the primitive's type; see geomWords for the per-type count.
// The AABB fields are derived; ComputeAABB fills them.
type Primitive struct {
	Type  Type
	Layer uint32

	Params [MaxParams]float32

	FillColor   uint32
	StrokeColor uint32
	StrokeWidth float32
	Round       float32

	AABBMinX, AABBMinY float32
	AABBMaxX, AABBMaxY float32
}

// WordCount returns the serialized length of the primitive in u32 words.
func (p *Primitive) WordCount() int {
	n, ok := geomWords[p.Type]
	if !ok {
		return 0
	}
	switch p.Type {
	case TypePlot:
		return 2 + n + 2 // lineColor, bgColor trailer
	case TypeImage:
		return 2 + n
	default:
		return 2 + n + 4 // fill, stroke, strokeWidth, round trailer
	}
}

// AppendWords serializes the primitive into shader-readable u32 words.
func (p *Primitive) AppendWords(dst []uint32) []uint32 {
	n, ok := geomWords[p.Type]
	if !ok {
		return dst
	}
	dst = append(dst, uint32(p.Type), p.Layer)
	raw := uintParams[p.Type]
	for i := 0; i < n; i++ {
		isRaw := false
		for _, ri := range raw {
			if ri == i {
				isRaw = true
				break
			}
		}
		if isRaw {
			dst = append(dst, uint32(p.Params[i]))
		} else {
			dst = append(dst, math.Float32bits(p.Params[i]))
		}
	}
	switch p.Type {
	case TypePlot:
		dst = append(dst, p.FillColor, p.StrokeColor)
	case TypeImage:
	default:
		dst = append(dst,
			p.FillColor, p.StrokeColor,
			math.Float32bits(p.StrokeWidth),
			math.Float32bits(p.Round))
	}
	return dst
}

func min2(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max2(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min3(a, b, c float32) float32 { return min2(min2(a, b), c) }
func max3(a, b, c float32) float32 { return max2(max2(a, b), c) }

// ComputeAABB derives the primitive's axis-aligned bounds from its
// geometry, expanded by half the stroke width. 3D primitives get a zero
// box; unknown types get an effectively unbounded one so they land in
// every grid cell rather than disappearing.
func ComputeAABB(p *Primitive) {
	expand := p.StrokeWidth * 0.5

	setCentered := func(cx, cy, rx, ry float32) {
		p.AABBMinX = cx - rx
		p.AABBMinY = cy - ry
		p.AABBMaxX = cx + rx
		p.AABBMaxY = cy + ry
	}

	switch p.Type {
	case TypeCircle:
		r := p.Params[2] + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	case TypeBox:
		setCentered(p.Params[0], p.Params[1],
			p.Params[2]+p.Round+expand, p.Params[3]+p.Round+expand)
	case TypeSegment:
		p.AABBMinX = min2(p.Params[0], p.Params[2]) - expand
		p.AABBMinY = min2(p.Params[1], p.Params[3]) - expand
		p.AABBMaxX = max2(p.Params[0], p.Params[2]) + expand
		p.AABBMaxY = max2(p.Params[1], p.Params[3]) + expand
	case TypeTriangle, TypeBezier2:
		p.AABBMinX = min3(p.Params[0], p.Params[2], p.Params[4]) - expand
		p.AABBMinY = min3(p.Params[1], p.Params[3], p.Params[5]) - expand
		p.AABBMaxX = max3(p.Params[0], p.Params[2], p.Params[4]) + expand
		p.AABBMaxY = max3(p.Params[1], p.Params[3], p.Params[5]) + expand
	case TypeBezier3:
		p.AABBMinX = min2(min3(p.Params[0], p.Params[2], p.Params[4]), p.Params[6]) - expand
		p.AABBMinY = min2(min3(p.Params[1], p.Params[3], p.Params[5]), p.Params[7]) - expand
		p.AABBMaxX = max2(max3(p.Params[0], p.Params[2], p.Params[4]), p.Params[6]) + expand
		p.AABBMaxY = max2(max3(p.Params[1], p.Params[3], p.Params[5]), p.Params[7]) + expand
	case TypeEllipse:
		setCentered(p.Params[0], p.Params[1], p.Params[2]+expand, p.Params[3]+expand)
	case TypeArc:
		r := max2(p.Params[4], p.Params[5]) + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	case TypeRoundedBox:
		maxR := max2(max2(p.Params[4], p.Params[5]), max2(p.Params[6], p.Params[7]))
		setCentered(p.Params[0], p.Params[1],
			p.Params[2]+maxR+expand, p.Params[3]+maxR+expand)
	case TypeRhombus, TypeVesica, TypeTunnel:
		setCentered(p.Params[0], p.Params[1], p.Params[2]+expand, p.Params[3]+expand)
	case TypePentagon, TypeHexagon, TypeStar, TypeCutDisk,
		TypeEquilateralTriangle, TypeOctogon, TypeHexagram, TypePentagram,
		TypeQuadraticCircle:
		r := p.Params[2] + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	case TypePie:
		r := p.Params[4] + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	case TypeRing:
		r := p.Params[4] + p.Params[5] + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	case TypeHeart, TypeBlobbyCross:
		s := p.Params[2]*1.5 + expand
		setCentered(p.Params[0], p.Params[1], s, s)
	case TypeCross:
		hw := max2(p.Params[2], p.Params[3]) + expand
		setCentered(p.Params[0], p.Params[1], hw, hw)
	case TypeRoundedX:
		s := p.Params[2] + p.Params[3] + expand
		setCentered(p.Params[0], p.Params[1], s, s)
	case TypeCapsule:
		r := p.Params[4] + expand
		p.AABBMinX = min2(p.Params[0], p.Params[2]) - r
		p.AABBMinY = min2(p.Params[1], p.Params[3]) - r
		p.AABBMaxX = max2(p.Params[0], p.Params[2]) + r
		p.AABBMaxY = max2(p.Params[1], p.Params[3]) + r
	case TypeMoon:
		r := max2(p.Params[3], p.Params[4]) + expand
		p.AABBMinX = p.Params[0] - r
		p.AABBMinY = p.Params[1] - r
		p.AABBMaxX = p.Params[0] + r + p.Params[2]
		p.AABBMaxY = p.Params[1] + r
	case TypeEgg:
		r := max2(p.Params[2], p.Params[3]) + expand
		p.AABBMinX = p.Params[0] - r
		p.AABBMinY = p.Params[1] - r
		p.AABBMaxX = p.Params[0] + r
		p.AABBMaxY = p.Params[1] + r + p.Params[2]
	case TypeChamferBox:
		setCentered(p.Params[0], p.Params[1],
			p.Params[2]+p.Params[4]+expand, p.Params[3]+p.Params[4]+expand)
	case TypeOrientedBox:
		th := p.Params[4]*0.5 + expand
		p.AABBMinX = min2(p.Params[0], p.Params[2]) - th
		p.AABBMinY = min2(p.Params[1], p.Params[3]) - th
		p.AABBMaxX = max2(p.Params[0], p.Params[2]) + th
		p.AABBMaxY = max2(p.Params[1], p.Params[3]) + th
	case TypeTrapezoid:
		setCentered(p.Params[0], p.Params[1],
			max2(p.Params[2], p.Params[3])+expand, p.Params[4]+expand)
	case TypeParallelogram:
		sk := p.Params[4]
		if sk < 0 {
			sk = -sk
		}
		setCentered(p.Params[0], p.Params[1],
			p.Params[2]+sk+expand, p.Params[3]+expand)
	case TypeIsoscelesTriangle:
		p.AABBMinX = p.Params[0] - p.Params[2] - expand
		p.AABBMinY = p.Params[1] - expand
		p.AABBMaxX = p.Params[0] + p.Params[2] + expand
		p.AABBMaxY = p.Params[1] + p.Params[3] + expand
	case TypeUnevenCapsule:
		rMax := max2(p.Params[2], p.Params[3]) + expand
		p.AABBMinX = p.Params[0] - rMax
		p.AABBMinY = p.Params[1] - p.Params[2] - expand
		p.AABBMaxX = p.Params[0] + rMax
		p.AABBMaxY = p.Params[1] + p.Params[4] + p.Params[3] + expand
	case TypeHorseshoe:
		r := p.Params[4] + p.Params[5] + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	case TypeOrientedVesica:
		w := p.Params[4] + expand
		p.AABBMinX = min2(p.Params[0], p.Params[2]) - w
		p.AABBMinY = min2(p.Params[1], p.Params[3]) - w
		p.AABBMaxX = max2(p.Params[0], p.Params[2]) + w
		p.AABBMaxY = max2(p.Params[1], p.Params[3]) + w
	case TypeRoundedCross:
		s := p.Params[2] + 1.0 + expand
		setCentered(p.Params[0], p.Params[1], s, s)
	case TypeParabola:
		s := 2.0/p.Params[2] + expand
		setCentered(p.Params[0], p.Params[1], s, s)
	case TypeStairs:
		tw := p.Params[2]*p.Params[4] + expand
		th := p.Params[3]*p.Params[4] + expand
		p.AABBMinX = p.Params[0] - expand
		p.AABBMinY = p.Params[1] - expand
		p.AABBMaxX = p.Params[0] + tw
		p.AABBMaxY = p.Params[1] + th
	case TypeHyperbola:
		s := p.Params[3] + expand + 1.0
		setCentered(p.Params[0], p.Params[1], s, s)
	case TypeCoolS:
		s := p.Params[2]*1.2 + expand
		setCentered(p.Params[0], p.Params[1], s, s)
	case TypeCircleWave:
		r := p.Params[3] * 2.0
		setCentered(p.Params[0], p.Params[1], r+expand, r+expand)
	case TypeColorWheel:
		r := p.Params[2] + expand
		setCentered(p.Params[0], p.Params[1], r, r)
	default:
		if p.Type.Is3D() {
			p.AABBMinX, p.AABBMinY = 0, 0
			p.AABBMaxX, p.AABBMaxY = 0, 0
			return
		}
		p.AABBMinX, p.AABBMinY = -1e10, -1e10
		p.AABBMaxX, p.AABBMaxY = 1e10, 1e10
	}
}
