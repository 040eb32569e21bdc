package provider

import (
	"context"
	"fmt"
	"strings"
)

type place struct {
	names   []string
	airport string
	city    string
}

var places = []place{
	{[]string{"beijing", "北京", "北京市"}, "PEK", "BJS"},
	{[]string{"shanghai", "上海", "上海市"}, "PVG", "SHA"},
	{[]string{"guangzhou", "广州"}, "CAN", "CAN"},
	{[]string{"shenzhen", "深圳"}, "SZX", "SZX"},
	{[]string{"chengdu", "成都"}, "CTU", "CTU"},
	{[]string{"hangzhou", "杭州"}, "HGH", "HGH"},
	{[]string{"xian", "xi'an", "西安"}, "XIY", "XIY"},
	{[]string{"hong kong", "hongkong", "香港"}, "HKG", "HKG"},
	{[]string{"tokyo", "东京", "東京"}, "NRT", "TYO"},
	{[]string{"osaka", "大阪"}, "KIX", "OSA"},
	{[]string{"seoul", "首尔", "首爾"}, "ICN", "SEL"},
	{[]string{"singapore", "新加坡"}, "SIN", "SIN"},
	{[]string{"bangkok", "曼谷"}, "BKK", "BKK"},
	{[]string{"kuala lumpur", "吉隆坡"}, "KUL", "KUL"},
	{[]string{"jakarta", "雅加达"}, "CGK", "JKT"},
	{[]string{"dubai", "迪拜"}, "DXB", "DXB"},
	{[]string{"istanbul", "伊斯坦布尔"}, "IST", "IST"},
	{[]string{"paris", "巴黎"}, "CDG", "PAR"},
	{[]string{"london", "伦敦"}, "LHR", "LON"},
	{[]string{"rome", "罗马"}, "FCO", "ROM"},
	{[]string{"milan", "米兰"}, "MXP", "MIL"},
	{[]string{"amsterdam", "阿姆斯特丹"}, "AMS", "AMS"},
	{[]string{"madrid", "马德里"}, "MAD", "MAD"},
	{[]string{"barcelona", "巴塞罗那"}, "BCN", "BCN"},
	{[]string{"munich", "慕尼黑"}, "MUC", "MUC"},
	{[]string{"frankfurt", "法兰克福"}, "FRA", "FRA"},
	{[]string{"zurich", "苏黎世"}, "ZRH", "ZUR"},
	{[]string{"vienna", "维也纳"}, "VIE", "VIE"},
	{[]string{"prague", "布拉格"}, "PRG", "PRG"},
	{[]string{"athens", "雅典"}, "ATH", "ATH"},
	{[]string{"new york", "纽约"}, "JFK", "NYC"},
	{[]string{"los angeles", "洛杉矶"}, "LAX", "LAX"},
	{[]string{"san francisco", "旧金山"}, "SFO", "SFO"},
	{[]string{"chicago", "芝加哥"}, "ORD", "CHI"},
	{[]string{"seattle", "西雅图"}, "SEA", "SEA"},
	{[]string{"vancouver", "温哥华"}, "YVR", "YVR"},
	{[]string{"toronto", "多伦多"}, "YYZ", "YTO"},
	{[]string{"sydney", "悉尼"}, "SYD", "SYD"},
	{[]string{"melbourne", "墨尔本"}, "MEL", "MEL"},
}

var airportToCity = map[string]string{
	"PEK": "BJS", "PKX": "BJS", "PVG": "SHA", "SHA": "SHA",
	"NRT": "TYO", "HND": "TYO", "KIX": "OSA", "ICN": "SEL", "GMP": "SEL",
	"CDG": "PAR", "ORY": "PAR", "LHR": "LON", "LGW": "LON",
	"FCO": "ROM", "MXP": "MIL", "ZRH": "ZUR", "CGK": "JKT",
	"JFK": "NYC", "EWR": "NYC", "LGA": "NYC", "ORD": "CHI", "YYZ": "YTO",
}

// StaticLocator resolves well-known cities from a built-in table. Input that
// already looks like an IATA code is returned unchanged.
type StaticLocator struct {
	byName map[string]place
}

// NewStaticLocator builds the lookup index.
func NewStaticLocator() *StaticLocator {
	idx := make(map[string]place)
	for _, p := range places {
		for _, n := range p.names {
			idx[n] = p
		}
	}
	return &StaticLocator{byName: idx}
}

func isIATA(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Airport returns the main airport code for a place.
func (l *StaticLocator) Airport(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if isIATA(name) {
		return name, nil
	}
	if p, ok := l.byName[normKey(name)]; ok {
		return p.airport, nil
	}
	return "", fmt.Errorf("no airport known for %q", name)
}

// City returns the metropolitan city code for a place.
func (l *StaticLocator) City(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if isIATA(name) {
		if c, ok := airportToCity[name]; ok {
			return c, nil
		}
		return name, nil
	}
	if p, ok := l.byName[normKey(name)]; ok {
		return p.city, nil
	}
	return "", fmt.Errorf("no city code known for %q", name)
}
