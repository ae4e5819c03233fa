package hierarchy

// suffixRank ranks single-character location-name suffixes large-to-small.
// Only trusted when both endpoints of an edge have a ranked suffix; mixing
// suffix rank with tier comparison produces known false positives.
var suffixRank = map[rune]int{
	'国': 1, '洲': 1, '域': 1,
	'省': 2,
	'府': 3, '州': 3, '郡': 3, '路': 3, '京': 3,
	'县': 4,
	'镇': 5,
	'村': 6, '寨': 6,
}

func getSuffixRank(name string) (int, bool) {
	r := []rune(name)
	if len(r) == 0 {
		return 0, false
	}
	rank, ok := suffixRank[r[len(r)-1]]
	return rank, ok
}

// provincePrefixes are found leading compound location names, e.g.
// "山东济州" = "山东" + "济州".
var provincePrefixes = []string{
	"山东", "山西", "河北", "河南", "河东",
	"江西", "江南", "江北",
	"浙西", "浙东", "两浙",
	"淮西", "淮东",
	"陕西", "关西",
	"湖南", "湖北",
	"广东", "广西",
	"福建", "四川",
	"北地",
}

// locationSuffixes mark a name as a sub-location of a known base name, e.g.
// "东京城外" is a child of "东京".
var locationSuffixes = []string{
	"城外", "城里", "城内", "城中", "城下", "城边",
	"地面", "地界", "境内", "境界", "界上", "界",
	"管下", "管内",
	"附近", "一带", "周边",
	"以东", "以西", "以南", "以北",
	"东门外", "西门外", "南门外", "北门外",
	"门外", "门内",
	"城东", "城西", "城南", "城北",
	"上东边",
}

// variantSuffixes mark a name as a plain variant of its base, e.g. "苏州城"
// is just "苏州".
var variantSuffixes = []string{"城", "城池"}

// prefectureToProvince is classical Chinese prefecture-to-province mapping,
// covering the geography most frequently encountered in Song/Ming/Qing-era
// narrative settings.
var prefectureToProvince = map[string]string{
	"济州": "山东", "兖州": "山东", "郓州": "山东", "青州": "山东",
	"登州": "山东", "莱州": "山东", "密州": "山东", "沂州": "山东",
	"淄州": "山东", "潍州": "山东", "济南": "山东", "济南府": "山东",
	"东平府": "山东", "东平": "山东", "泰安州": "山东", "泰安": "山东",
	"曹州": "山东", "单州": "山东", "濮州": "山东", "滕州": "山东",
	"沧州": "河北", "大名府": "河北", "大名": "河北", "北京": "河北",
	"真定府": "河北", "真定": "河北", "相州": "河北",
	"开封府": "京畿", "开封": "京畿", "东京": "京畿",
	"汴京": "京畿", "汴梁": "京畿", "陈州": "京畿", "京师": "京畿",
	"太原府": "河东", "太原": "河东", "代州": "河东", "雁门": "河东",
	"孟州": "河南", "陕州": "河南", "宛州": "河南",
	"江宁府": "江南", "建康府": "江南", "建康": "江南",
	"江州": "江南", "洪州": "江南", "信州": "江南", "金陵": "江南",
	"杭州": "两浙", "苏州": "两浙", "湖州": "两浙",
	"越州": "两浙", "明州": "两浙", "台州": "两浙",
	"温州": "两浙", "临安": "两浙", "临安府": "两浙",
	"扬州": "淮南", "楚州": "淮南", "淮安": "淮南", "泰州": "淮南",
	"荆南": "荆湖", "江陵": "荆湖", "江陵府": "荆湖", "鄂州": "荆湖", "潭州": "荆湖",
	"渭州": "关西", "延安府": "关西", "延安": "关西", "华州": "关西",
	"成都": "蜀", "成都府": "蜀", "达州": "蜀",
	"幽州": "河北", "燕京": "河北",
}

// mountainsToProvince maps a few geographically anchoring mountain names.
var mountainsToProvince = map[string]string{
	"五台山": "河东", "华山": "关西", "西岳华山": "关西", "泰山": "山东",
	"北邙山": "河南", "梁山": "山东", "梁山泊": "山东",
}

// riversToProvince maps a few geographically anchoring river names.
var riversToProvince = map[string]string{
	"黄河": "京畿", "扬子江": "江南", "扬子大江": "江南", "渭河": "关西",
}

// provinces are the province-level nodes connected directly to the
// uber-root, plus common two-character city/region names kept here so
// they are never mistaken for sub-location names by isSubLocationName.
var provinces = map[string]bool{
	"山东": true, "河北": true, "京畿": true, "河东": true, "河南": true, "山西": true,
	"江南": true, "两浙": true, "淮南": true, "荆湖": true, "关西": true, "蜀": true,
	"福建": true, "广东": true, "广西": true, "湖南": true, "湖北": true, "陕西": true,
	"江西": true, "淮东": true, "淮西": true, "浙西": true, "浙东": true, "江北": true,
	"北地": true,
	"都中": true, "金陵": true, "姑苏": true, "扬州": true, "长安": true, "洛阳": true,
	"南京": true, "北京": true, "开封": true, "杭州": true, "苏州": true, "成都": true,
	"天津": true, "西安": true, "太原": true, "济南": true, "武汉": true, "广州": true,
	"长沙": true, "南昌": true, "贵阳": true, "昆明": true, "兰州": true, "沈阳": true,
}

func geoProvinceOf(name string) (string, bool) {
	if p, ok := prefectureToProvince[name]; ok {
		return p, true
	}
	if p, ok := mountainsToProvince[name]; ok {
		return p, true
	}
	if p, ok := riversToProvince[name]; ok {
		return p, true
	}
	return "", false
}

func allGeoKeys() []string {
	keys := make([]string, 0, len(prefectureToProvince)+len(mountainsToProvince)+len(riversToProvince))
	for k := range prefectureToProvince {
		keys = append(keys, k)
	}
	for k := range mountainsToProvince {
		keys = append(keys, k)
	}
	for k := range riversToProvince {
		keys = append(keys, k)
	}
	return keys
}
