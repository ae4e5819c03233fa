// Package worldstructure implements WorldStructureAgent: the incremental,
// signal-driven builder that folds each chapter's extracted fact into the
// novel-wide WorldStructure (layers, regions, tiers, icons), triggering an
// LLM pass only when a chapter's signals warrant one.
package worldstructure

import (
	"context"
	"encoding/json"
	"strings"

	"novelpipe/internal/domain"
	"novelpipe/internal/llm"
	"novelpipe/internal/logging"
)

var logger = logging.NewComponentLogger("worldstructure")

var celestialKeywords = []string{
	"天宫", "天庭", "天门", "天界", "三十三天", "大罗天",
	"离恨天", "兜率宫", "凌霄殿", "蟠桃园", "瑶池",
	"灵霄宝殿", "南天门", "北天门", "东天门", "西天门", "九天应元府",
}

var underworldKeywords = []string{
	"地府", "冥界", "幽冥", "阴司", "阴曹", "黄泉",
	"奈何桥", "阎罗殿", "森罗殿", "枉死城",
}

var instanceTypeKeywords = []string{"洞", "府"}

var macroGeoSuffixes = []string{"洲", "域", "界", "国"}

var genreKeywords = map[domain.GenreHint][]string{
	domain.GenreFantasy: {
		"修炼", "修仙", "灵气", "法宝", "丹药", "阵法", "飞升", "渡劫",
		"妖", "仙", "魔", "天宫", "天庭", "龙宫", "地府", "结丹", "元婴",
		"灵根", "功法", "法术", "御剑", "遁光", "神通", "洞府", "仙人",
	},
	domain.GenreWuxia: {
		"江湖", "门派", "武功", "内力", "武林", "侠", "剑法", "掌法",
		"轻功", "暗器", "镖局", "帮", "盟", "掌门", "弟子", "比武",
	},
	domain.GenreHistorical: {
		"朝廷", "皇帝", "太监", "丞相", "将军", "知府", "知县",
		"年号", "国号", "殿下", "陛下", "圣旨", "科举",
	},
	domain.GenreUrban: {
		"公司", "学校", "大学", "手机", "电脑", "网络", "办公室",
		"警察", "医院", "地铁", "出租车", "餐厅",
	},
}

const genreMinScore = 5

var directionMap = map[string]string{"东": "east", "西": "west", "南": "south", "北": "north"}

// Agent processes one novel's chapters in order, mutating a WorldStructure
// in place as signals accumulate.
type Agent struct {
	Client        llm.Client
	NovelID       string
	genreScores   map[domain.GenreHint]int
	overriddenSet map[overrideKey]bool
}

type overrideKey struct {
	Kind string
	Name string
}

// NewAgent returns an Agent with zeroed genre-detection accumulators.
func NewAgent(novelID string, client llm.Client) *Agent {
	return &Agent{
		NovelID:       novelID,
		Client:        client,
		genreScores:   make(map[domain.GenreHint]int),
		overriddenSet: make(map[overrideKey]bool),
	}
}

// LoadOverrides records which (kind, location) pairs a user has manually
// pinned; heuristics and LLM operations must never touch them.
func (a *Agent) LoadOverrides(kinds map[string][]string) {
	for kind, names := range kinds {
		for _, name := range names {
			a.overriddenSet[overrideKey{Kind: kind, Name: name}] = true
		}
	}
}

func (a *Agent) isOverridden(kind, name string) bool {
	return a.overriddenSet[overrideKey{Kind: kind, Name: name}]
}

// ProcessChapter folds one chapter's fact into ws, returning the updated
// structure. Matches spec §4.6 step order: genre, spatial scale, signal
// scan, heuristics, then a conditional LLM pass.
func (a *Agent) ProcessChapter(ctx context.Context, ws domain.WorldStructure, chapterNum int, chapterText string, fact domain.ChapterFact) domain.WorldStructure {
	if chapterNum <= 10 {
		a.detectGenre(&ws, chapterText, fact)
	}
	if chapterNum == 5 {
		ws.SpatialScale = a.detectSpatialScale(ws)
	}

	signals := a.scanSignals(chapterNum, chapterText, fact)
	a.applyHeuristics(&ws, fact)

	if a.shouldTriggerLLM(chapterNum, signals, fact, ws) {
		a.runLLMUpdate(ctx, &ws, signals, fact)
	}

	return ws
}

func (a *Agent) detectGenre(ws *domain.WorldStructure, chapterText string, fact domain.ChapterFact) {
	if ws.NovelGenreHint != "" && ws.NovelGenreHint != domain.GenreUnknown {
		return
	}
	for genre, keywords := range genreKeywords {
		for _, kw := range keywords {
			if strings.Contains(chapterText, kw) {
				a.genreScores[genre]++
			}
		}
	}
	for _, concept := range fact.NewConcepts {
		for genre, keywords := range genreKeywords {
			for _, kw := range keywords {
				if strings.Contains(concept.Name, kw) || strings.Contains(concept.Definition, kw) {
					a.genreScores[genre] += 2
				}
			}
		}
	}

	var best domain.GenreHint
	bestScore := -1
	for genre, score := range a.genreScores {
		if score > bestScore {
			best, bestScore = genre, score
		}
	}
	if bestScore >= genreMinScore {
		ws.NovelGenreHint = best
		logger.Info("genre detected: %s (score=%d)", best, bestScore)
	}
}

func (a *Agent) detectSpatialScale(ws domain.WorldStructure) domain.SpatialScale {
	if ws.NovelGenreHint == domain.GenreUrban {
		return domain.ScaleUrban
	}

	hasContinent, hasKingdom := false, false
	for _, tier := range ws.LocationTiers {
		if tier == domain.TierContinent {
			hasContinent = true
		}
		if tier == domain.TierKingdom {
			hasKingdom = true
		}
	}
	hasCelestial := false
	for _, layer := range ws.Layers {
		if layer.LayerID != domain.DefaultOverworldLayerID && layer.LayerType == domain.LayerSky {
			hasCelestial = true
		}
	}

	switch {
	case hasCelestial && hasContinent:
		return domain.ScaleCosmic
	case hasContinent:
		return domain.ScaleContinental
	case hasKingdom:
		return domain.ScaleNational
	}

	switch ws.NovelGenreHint {
	case domain.GenreFantasy:
		return domain.ScaleCosmic
	case domain.GenreWuxia, domain.GenreHistorical:
		return domain.ScaleNational
	}
	return domain.ScaleContinental
}

func (a *Agent) isInstanceDetectionEnabled(ws domain.WorldStructure) bool {
	return ws.NovelGenreHint != domain.GenreUrban
}

func detectLayer(name string) string {
	for _, kw := range celestialKeywords {
		if strings.Contains(name, kw) {
			return "celestial"
		}
	}
	for _, kw := range underworldKeywords {
		if strings.Contains(name, kw) {
			return "underworld"
		}
	}
	return ""
}

func ensureLayerExists(ws *domain.WorldStructure, layerID string) {
	for _, l := range ws.Layers {
		if l.LayerID == layerID {
			return
		}
	}
	layerType, name := domain.LayerPocket, layerID
	switch layerID {
	case "celestial":
		layerType, name = domain.LayerSky, "天界"
	case "underworld":
		layerType, name = domain.LayerUnderworld, "冥界/地府"
	}
	ws.Layers = append(ws.Layers, domain.Layer{LayerID: layerID, Name: name, LayerType: layerType})
}

func hasLayer(ws domain.WorldStructure, layerID string) bool {
	for _, l := range ws.Layers {
		if l.LayerID == layerID {
			return true
		}
	}
	return false
}

func getLayer(ws *domain.WorldStructure, layerID string) *domain.Layer {
	for i := range ws.Layers {
		if ws.Layers[i].LayerID == layerID {
			return &ws.Layers[i]
		}
	}
	return nil
}

// applyHeuristics implements spec §4.6 step 4: layer, instance, region,
// tier, and icon assignment for every location in the fact.
func (a *Agent) applyHeuristics(ws *domain.WorldStructure, fact domain.ChapterFact) {
	for _, loc := range fact.Locations {
		name, locType := loc.Name, loc.Type

		if !a.isOverridden("location_layer", name) {
			if layerID := detectLayer(name); layerID != "" {
				ensureLayerExists(ws, layerID)
				ws.LocationLayerMap[name] = layerID
			} else if _, ok := ws.LocationLayerMap[name]; !ok {
				ws.LocationLayerMap[name] = domain.DefaultOverworldLayerID
			}
		}

		if a.isInstanceDetectionEnabled(*ws) && containsAny(locType, instanceTypeKeywords) && loc.Parent != "" && !a.isOverridden("location_layer", name) {
			layerID := "instance_" + name
			if !hasLayer(*ws, layerID) {
				ws.Layers = append(ws.Layers, domain.Layer{LayerID: layerID, Name: name, LayerType: domain.LayerPocket})
			}
			ws.LocationLayerMap[name] = layerID
		}

		if !a.isOverridden("location_region", name) {
			a.assignRegion(ws, name, locType, loc.Parent)
		}

		if _, ok := ws.LocationTiers[name]; !ok {
			level := 0
			if loc.Parent != "" {
				if _, ok := ws.LocationLayerMap[loc.Parent]; ok {
					level = 1
				}
			}
			ws.LocationTiers[name] = classifyTier(name, locType, loc.Parent, level)
		}
		if _, ok := ws.LocationIcons[name]; !ok {
			ws.LocationIcons[name] = classifyIcon(name, locType)
		}
	}
}

func (a *Agent) assignRegion(ws *domain.WorldStructure, name, locType, parent string) {
	if parent != "" {
		for _, layer := range ws.Layers {
			for _, region := range layer.Regions {
				if region.Name == parent {
					ws.LocationRegionMap[name] = parent
					return
				}
			}
		}
	}

	if containsAny(locType, macroGeoSuffixes) {
		direction := inferDirection(name)
		overworld := getLayer(ws, domain.DefaultOverworldLayerID)
		if overworld != nil {
			exists := false
			for _, r := range overworld.Regions {
				if r.Name == name {
					exists = true
				}
			}
			if !exists {
				overworld.Regions = append(overworld.Regions, domain.Region{Name: name, CardinalDir: direction, RegionType: locType})
			}
		}
		ws.LocationRegionMap[name] = name
		return
	}

	if parent != "" {
		if parentRegion, ok := ws.LocationRegionMap[parent]; ok {
			ws.LocationRegionMap[name] = parentRegion
		}
	}
}

func inferDirection(name string) string {
	r := []rune(name)
	if len(r) == 0 {
		return ""
	}
	return directionMap[string(r[0])]
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func classifyTier(name, locType, parent string, level int) domain.Tier {
	switch {
	case containsAny(name, []string{"三界", "天下"}) || strings.Contains(locType, "世界"):
		return domain.TierWorld
	case containsAny(name, []string{"洲", "大陆", "大海"}) || containsAny(locType, []string{"洲", "域", "界"}):
		return domain.TierContinent
	case containsAny(locType, []string{"国", "王国"}) || strings.Contains(name, "国"):
		return domain.TierKingdom
	case containsAny(locType, []string{"殿", "堂", "阁", "楼", "房", "室", "厅"}):
		return domain.TierBuilding
	case containsAny(locType, []string{"洞", "穴", "桥", "渡", "关", "隘", "泉", "潭", "崖"}):
		return domain.TierSite
	case level >= 2:
		return domain.TierSite
	case containsAny(locType, []string{"山", "海", "域", "林", "宗", "门", "派"}):
		return domain.TierRegion
	case containsAny(locType, []string{"城", "镇", "都", "村", "寨", "庄", "寺", "庙", "观", "庵"}):
		return domain.TierCity
	case level == 0 && parent == "" && locType != "" && !containsAny(locType, []string{"城", "镇", "都", "村"}):
		return domain.TierRegion
	default:
		return domain.TierCity
	}
}

func classifyIcon(name, locType string) string {
	combined := name + locType
	switch {
	case containsAny(locType, []string{"城", "镇", "都"}):
		return "city"
	case containsAny(locType, []string{"村", "寨", "庄"}):
		return "village"
	case containsAny(combined, []string{"营", "帐"}):
		return "camp"
	case containsAny(combined, []string{"山", "峰", "岭", "崖"}):
		return "mountain"
	case containsAny(combined, []string{"林", "森"}):
		return "forest"
	case containsAny(combined, []string{"海", "河", "湖", "泉", "潭"}):
		return "water"
	case containsAny(combined, []string{"沙", "漠", "荒"}):
		return "desert"
	case containsAny(combined, []string{"寺", "庙", "观", "庵"}):
		return "temple"
	case containsAny(combined, []string{"宫", "殿", "府"}):
		return "palace"
	case containsAny(combined, []string{"洞", "穴"}):
		return "cave"
	case containsAny(combined, []string{"塔", "阁", "楼"}):
		return "tower"
	case containsAny(combined, []string{"关", "隘"}):
		return "gate"
	case containsAny(combined, []string{"传送", "入口"}):
		return "portal"
	case containsAny(combined, []string{"废", "墟", "遗迹"}):
		return "ruins"
	default:
		return "generic"
	}
}

// llmOperation mirrors the small closed vocabulary the LLM returns; only
// the fields relevant to each op are populated.
type llmOperation struct {
	Op             string `json:"op"`
	LayerID        string `json:"layer_id,omitempty"`
	Name           string `json:"name,omitempty"`
	CardinalDir    string `json:"cardinal_direction,omitempty"`
	RegionType     string `json:"region_type,omitempty"`
	LayerType      string `json:"layer_type,omitempty"`
	SourceLayer    string `json:"source_layer,omitempty"`
	SourceLocation string `json:"source_location,omitempty"`
	TargetLayer    string `json:"target_layer,omitempty"`
	TargetLocation string `json:"target_location,omitempty"`
	Bidirectional  bool   `json:"is_bidirectional,omitempty"`
	LocationName   string `json:"location_name,omitempty"`
	RegionName     string `json:"region_name,omitempty"`
	Tier           string `json:"tier,omitempty"`
	Icon           string `json:"icon,omitempty"`
}

type llmUpdateResponse struct {
	Operations []llmOperation `json:"operations"`
	Reasoning  string         `json:"reasoning"`
}

func (a *Agent) runLLMUpdate(ctx context.Context, ws *domain.WorldStructure, signals []signal, fact domain.ChapterFact) {
	if a.Client == nil {
		return
	}
	req := buildUpdateRequest(*ws, signals, fact)
	resp, err := a.Client.Complete(ctx, req)
	if err != nil {
		logger.Warn("world structure LLM update failed (non-fatal): %v", err)
		return
	}
	var parsed llmUpdateResponse
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		logger.Warn("world structure LLM update unparseable (non-fatal): %v", err)
		return
	}
	a.applyOperations(ws, parsed.Operations)
}

func buildUpdateRequest(ws domain.WorldStructure, signals []signal, fact domain.ChapterFact) llm.Request {
	blob, _ := json.Marshal(map[string]any{
		"layers":                 ws.Layers,
		"portals":                ws.Portals,
		"location_region_map":    truncateMap(ws.LocationRegionMap, 50),
		"location_layer_map":     truncateMap(ws.LocationLayerMap, 50),
		"signals":                signals,
		"locations":              fact.Locations,
		"spatial_relationships":  fact.SpatialRelationships,
	})
	return llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "你是中文小说世界观结构维护助手，根据信号与本章地点信息输出结构更新操作，严格输出 JSON，操作类型限定在 ADD_REGION/ADD_LAYER/ADD_PORTAL/ASSIGN_LOCATION/UPDATE_REGION/SET_TIER/SET_ICON/NO_CHANGE。"},
			{Role: "user", Content: string(blob)},
		},
		JSONFormat: true,
	}
}

func truncateMap(m map[string]string, limit int) map[string]string {
	if len(m) <= limit {
		return m
	}
	out := make(map[string]string, limit)
	n := 0
	for k, v := range m {
		if n >= limit {
			break
		}
		out[k] = v
		n++
	}
	return out
}

func (a *Agent) applyOperations(ws *domain.WorldStructure, ops []llmOperation) {
	for _, op := range ops {
		switch op.Op {
		case "ADD_REGION":
			a.opAddRegion(ws, op)
		case "ADD_LAYER":
			a.opAddLayer(ws, op)
		case "ADD_PORTAL":
			a.opAddPortal(ws, op)
		case "ASSIGN_LOCATION":
			a.opAssignLocation(ws, op)
		case "UPDATE_REGION":
			a.opUpdateRegion(ws, op)
		case "SET_TIER":
			a.opSetTier(ws, op)
		case "SET_ICON":
			a.opSetIcon(ws, op)
		case "NO_CHANGE":
		default:
			logger.Warn("unknown world structure operation %q, dropping", op.Op)
		}
	}
}

func (a *Agent) opAddRegion(ws *domain.WorldStructure, op llmOperation) {
	if op.Name == "" || !hasLayer(*ws, op.LayerID) {
		return
	}
	layer := getLayer(ws, op.LayerID)
	for _, r := range layer.Regions {
		if r.Name == op.Name {
			return
		}
	}
	layer.Regions = append(layer.Regions, domain.Region{Name: op.Name, CardinalDir: op.CardinalDir, RegionType: op.RegionType})
}

func (a *Agent) opAddLayer(ws *domain.WorldStructure, op llmOperation) {
	if op.LayerID == "" || hasLayer(*ws, op.LayerID) {
		return
	}
	lt := domain.LayerType(op.LayerType)
	if lt == "" {
		lt = domain.LayerPocket
	}
	ws.Layers = append(ws.Layers, domain.Layer{LayerID: op.LayerID, Name: op.Name, LayerType: lt})
}

func (a *Agent) opAddPortal(ws *domain.WorldStructure, op llmOperation) {
	if a.isOverridden("delete_portal", op.Name) {
		return
	}
	if !hasLayer(*ws, op.SourceLayer) || !hasLayer(*ws, op.TargetLayer) {
		return
	}
	ws.Portals = append(ws.Portals, domain.Portal{
		Name: op.Name, SourceLayer: op.SourceLayer, SourceLocation: op.SourceLocation,
		TargetLayer: op.TargetLayer, TargetLocation: op.TargetLocation, IsBidirectional: op.Bidirectional,
	})
}

func (a *Agent) opAssignLocation(ws *domain.WorldStructure, op llmOperation) {
	if op.LocationName == "" {
		return
	}
	if op.RegionName != "" && !a.isOverridden("location_region", op.LocationName) {
		ws.LocationRegionMap[op.LocationName] = op.RegionName
	}
	if op.LayerID != "" && hasLayer(*ws, op.LayerID) && !a.isOverridden("location_layer", op.LocationName) {
		ws.LocationLayerMap[op.LocationName] = op.LayerID
	}
}

func (a *Agent) opUpdateRegion(ws *domain.WorldStructure, op llmOperation) {
	for i := range ws.Layers {
		for j := range ws.Layers[i].Regions {
			if ws.Layers[i].Regions[j].Name == op.Name {
				if op.CardinalDir != "" {
					ws.Layers[i].Regions[j].CardinalDir = op.CardinalDir
				}
				if op.RegionType != "" {
					ws.Layers[i].Regions[j].RegionType = op.RegionType
				}
			}
		}
	}
}

func (a *Agent) opSetTier(ws *domain.WorldStructure, op llmOperation) {
	if op.Name == "" || op.Tier == "" || a.isOverridden("location_tier", op.Name) {
		return
	}
	if _, ok := domain.TierOrder[domain.Tier(op.Tier)]; ok {
		ws.LocationTiers[op.Name] = domain.Tier(op.Tier)
	}
}

func (a *Agent) opSetIcon(ws *domain.WorldStructure, op llmOperation) {
	if op.Name == "" || op.Icon == "" {
		return
	}
	ws.LocationIcons[op.Name] = op.Icon
}
