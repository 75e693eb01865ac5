package voxel

// Side is one of the six axis-aligned cube faces.
type Side uint8

const (
	Bottom Side = iota
	Top
	Left
	Right
	Front
	Back
)

// Sides lists every face in table order.
var Sides = [6]Side{Bottom, Top, Left, Right, Front, Back}

var sideOffsets = [6][3]int{
	Bottom: {0, -1, 0},
	Top:    {0, 1, 0},
	Left:   {-1, 0, 0},
	Right:  {1, 0, 0},
	Front:  {0, 0, 1},
	Back:   {0, 0, -1},
}

// Offset is the outward unit step of the face.
func (s Side) Offset() (dx, dy, dz int) {
	o := sideOffsets[s]
	return o[0], o[1], o[2]
}

func (s Side) Opposite() Side {
	switch s {
	case Bottom:
		return Top
	case Top:
		return Bottom
	case Left:
		return Right
	case Right:
		return Left
	case Front:
		return Back
	default:
		return Front
	}
}

func (s Side) String() string {
	switch s {
	case Bottom:
		return "BOTTOM"
	case Top:
		return "TOP"
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	case Front:
		return "FRONT"
	case Back:
		return "BACK"
	default:
		return "SIDE?"
	}
}
