package tile

// GeometryType tells how the points of an element are connected.
type GeometryType uint8

const (
	GeomNone GeometryType = iota
	GeomPoint
	GeomLine
	GeomPolygon
	GeomMesh
)

func (g GeometryType) String() string {
	switch g {
	case GeomPoint:
		return "point"
	case GeomLine:
		return "line"
	case GeomPolygon:
		return "polygon"
	case GeomMesh:
		return "mesh"
	default:
		return "none"
	}
}

type Tag struct {
	Key   string
	Value string
}

// Element is one decoded geometry. Points holds x,y pairs in tile pixel
// space (x,y,z triples for meshes). Index holds the length of each part in
// float slots; for meshes it holds triangle vertex indices.
type Element struct {
	Type   GeometryType
	Layer  int
	Points []float32
	Index  []int32
	Tags   []Tag
}

// Content is the decoded payload of one tile.
type Content struct {
	Version  int
	Tags     []Tag
	Elements []Element
	// Size is the number of payload bytes the content was decoded from.
	Size int
}

// NumPoints counts the coordinate pairs of all non-mesh elements.
func (c *Content) NumPoints() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, e := range c.Elements {
		if e.Type != GeomMesh {
			n += len(e.Points) / 2
		}
	}
	return n
}
