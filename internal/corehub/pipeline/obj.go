package pipeline

import (
	"bufio"
	"os"
	"strings"
)

// objGroup is one `g <name>` group parsed from an OBJ file, classified into
// a coarse body-part bucket when its name matches a known pattern.
type objGroup struct {
	Name string `json:"name"`
	Line int    `json:"line"`
	Type string `json:"type"`
}

// objStructure is the result of a lightweight structural scan of a
// downloaded OBJ file, attached to the resource's metadata so downstream
// callers (the FBX converter's R6/R15 heuristic, UI summaries) don't need to
// re-parse the mesh.
type objStructure struct {
	Vertices      int        `json:"vertices"`
	Faces         int        `json:"faces"`
	Normals       int        `json:"normals"`
	TextureCoords int        `json:"texture_coords"`
	Groups        []objGroup `json:"groups"`
	Materials     []string   `json:"materials"`
	BodyParts     []objGroup `json:"body_parts"`
}

var bodyPartKeywords = map[string][]string{
	"head":      {"player1", "head"},
	"torso":     {"player2", "torso", "chest"},
	"left_arm":  {"player3", "leftarm", "left_arm"},
	"right_arm": {"player4", "rightarm", "right_arm"},
	"left_leg":  {"player5", "leftleg", "left_leg"},
	"right_leg": {"player6", "rightleg", "right_leg"},
	"hat":       {"player7", "hat", "cap", "helmet"},
	"hair":      {"player8", "hair"},
	"face":      {"player9", "face"},
	"shirt":     {"player10", "shirt", "top"},
	"pants":     {"player11", "pants", "bottom"},
	"shoes":     {"player12", "shoes", "boot"},
	"accessory": {"player13", "player14", "player15", "accessory", "gear"},
	"handle":    {"handle", "grip", "tool"},
}

// classifyBodyPart maps an OBJ group name to a coarse body-part bucket,
// "unknown" when no keyword matches. The longest matching keyword wins, so
// "player10" is not mistaken for "player1".
func classifyBodyPart(groupName string) string {
	n := strings.ToLower(groupName)
	best, bestLen := "unknown", 0
	for part, keywords := range bodyPartKeywords {
		for _, kw := range keywords {
			if len(kw) > bestLen && strings.Contains(n, kw) {
				best, bestLen = part, len(kw)
			}
		}
	}
	return best
}

// r15GroupMarkers catches the finer-grained group naming R15 avatars
// typically use, the last-resort heuristic when avatar_config metadata is
// unavailable.
var r15GroupMarkers = []string{"upper", "lower", "hand", "foot", "upperarm", "lowerarm", "upperleg", "lowerleg"}

// inferRigFromGroups guesses R6 vs R15 vs Unknown purely from group-name
// shape, used only when the richer avatar_config API response lacks
// playerAvatarType.
func inferRigFromGroups(groups []objGroup) string {
	for _, g := range groups {
		name := strings.ToLower(g.Name)
		for _, marker := range r15GroupMarkers {
			if strings.Contains(name, marker) {
				return "R15"
			}
		}
	}
	if len(groups) <= 8 && len(groups) > 0 {
		return "R6"
	}
	return "Unknown"
}

// analyzeOBJFile does a single streaming pass over path, counting
// vertices/faces/normals/texture-coords and collecting groups and materials.
func analyzeOBJFile(path string) (objStructure, error) {
	f, err := os.Open(path)
	if err != nil {
		return objStructure{}, err
	}
	defer f.Close()

	var out objStructure
	seenMaterial := map[string]bool{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "v "):
			out.Vertices++
		case strings.HasPrefix(line, "vn "):
			out.Normals++
		case strings.HasPrefix(line, "vt "):
			out.TextureCoords++
		case strings.HasPrefix(line, "f "):
			out.Faces++
		case strings.HasPrefix(line, "g "):
			name := strings.TrimSpace(line[2:])
			g := objGroup{Name: name, Line: lineNum, Type: classifyBodyPart(name)}
			out.Groups = append(out.Groups, g)
			if g.Type != "unknown" {
				out.BodyParts = append(out.BodyParts, g)
			}
		case strings.HasPrefix(line, "usemtl "):
			mtl := strings.TrimSpace(line[7:])
			if mtl != "" && !seenMaterial[mtl] {
				seenMaterial[mtl] = true
				out.Materials = append(out.Materials, mtl)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return objStructure{}, err
	}
	return out, nil
}
