package round

// Color is the colour class of a result digit.
type Color string

const (
	ColorRed    Color = "red"
	ColorGreen  Color = "green"
	ColorViolet Color = "violet"
)

// Size is the size class of a result digit.
type Size string

const (
	SizeBig   Size = "big"
	SizeSmall Size = "small"
)

// ColorOf maps a digit to its colour: green is 5, violet is 1, 3, 7 and 9,
// red is every even digit.
func ColorOf(v int) Color {
	switch {
	case v == 5:
		return ColorGreen
	case v%2 == 1:
		return ColorViolet
	default:
		return ColorRed
	}
}

// SizeOf maps a digit to big (5-9) or small (0-4).
func SizeOf(v int) Size {
	if v >= 5 {
		return SizeBig
	}
	return SizeSmall
}
