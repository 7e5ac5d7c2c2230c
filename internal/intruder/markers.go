package intruder

import (
	"strings"

	"netforge/pkg/model"
)

// Marker 载荷位置标记符，成对出现
const Marker = "§"

// ParseMarkers 去掉模板中成对的标记，返回干净的模板和按字节偏移表示的位置
func ParseMarkers(marked string) (string, []model.Position, error) {
	var b strings.Builder
	b.Grow(len(marked))
	var positions []model.Position
	open := -1
	rest := marked
	for {
		i := strings.Index(rest, Marker)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		if open < 0 {
			open = b.Len()
		} else {
			positions = append(positions, model.Position{Start: open, End: b.Len()})
			open = -1
		}
		rest = rest[i+len(Marker):]
	}
	if open >= 0 {
		return "", nil, invalidf("unterminated %s marker at offset %d", Marker, open)
	}
	return b.String(), positions, nil
}
