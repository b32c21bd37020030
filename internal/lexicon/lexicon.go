package lexicon

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the static vocabulary used by query preprocessing: synonym
// groups, whole-query abbreviations, brand keyword tables, and category
// keyword tables. It is loaded once at construction and read-only afterwards,
// so it is safe for concurrent use.
type Lexicon struct {
	Synonyms      map[string][]string `yaml:"synonyms"`
	Abbreviations map[string][]string `yaml:"abbreviations"`
	Brands        map[string][]string `yaml:"brands"`
	Categories    map[string][]string `yaml:"categories"`

	// Sorted key snapshots keep term expansion deterministic across runs;
	// map iteration order must never leak into scoring.
	synonymKeys  []string
	brandNames   []string
	categoryKeys []string
}

// Load reads a lexicon YAML file. An empty path returns the built-in default
// tables.
func Load(path string) (*Lexicon, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading lexicon file %s: %w", path, err)
	}

	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("parsing lexicon file: %w", err)
	}

	lex.compile()
	return &lex, nil
}

// Default returns the built-in vocabulary covering the product-affiliate and
// medical-lookup deployments.
func Default() *Lexicon {
	lex := &Lexicon{
		Synonyms: map[string][]string{
			"มือถือ":    {"โทรศัพท์", "smartphone", "phone"},
			"โทรศัพท์":  {"มือถือ", "smartphone", "phone"},
			"คอม":       {"คอมพิวเตอร์", "computer", "laptop", "โน๊ตบุ๊ค"},
			"หูฟัง":     {"headphone", "earphone", "earbuds"},
			"รองเท้า":   {"shoes", "sneaker", "ผ้าใบ"},
			"กระเป๋า":   {"bag", "backpack", "เป้"},
			"เลือด":     {"blood", "cbc", "เม็ดเลือด", "ตรวจเลือด"},
			"น้ำตาล":    {"glucose", "sugar", "เบาหวาน"},
			"ปัสสาวะ":   {"urine", "urinalysis"},
			"ไขมัน":     {"cholesterol", "lipid", "คอเลสเตอรอล"},
			"ตรวจ":      {"test", "examination", "check", "lab"},
			"ค่า":       {"rate", "cost", "price", "fee", "บาท"},
		},
		Abbreviations: map[string][]string{
			"cbc":   {"complete blood count", "ตรวจความสมบูรณ์ของเม็ดเลือด"},
			"hba1c": {"glycated hemoglobin", "น้ำตาลสะสม"},
			"fbs":   {"fasting blood sugar", "น้ำตาลในเลือด"},
			"ua":    {"uric acid", "กรดยูริก"},
		},
		Brands: map[string][]string{
			"apple":   {"apple", "iphone", "ipad", "macbook", "airpods"},
			"samsung": {"samsung", "galaxy"},
			"xiaomi":  {"xiaomi", "redmi", "poco"},
			"nike":    {"nike", "ไนกี้"},
			"adidas":  {"adidas", "อาดิดาส"},
			"sony":    {"sony", "playstation"},
		},
		Categories: map[string][]string{
			"โทรศัพท์มือถือ":  {"มือถือ", "โทรศัพท์", "smartphone", "iphone", "samsung", "android"},
			"ความงาม":         {"ความงาม", "เซรั่ม", "ครีม", "ลิป", "แต่งหน้า", "beauty", "skincare"},
			"แฟชั่น":          {"แฟชั่น", "เสื้อผ้า", "เสื้อ", "กางเกง", "fashion", "clothes"},
			"เกมมิ่ง":         {"เกมมิ่ง", "เกม", "หูฟัง", "คีย์บอร์ด", "gaming", "game"},
			"สัตว์เลี้ยง":     {"สัตว์เลี้ยง", "แมว", "หมา", "อาหารแมว", "อาหารหมา", "pet"},
			"รองเท้า":         {"รองเท้า", "ผ้าใบ", "ส้นสูง", "shoes", "sneaker"},
			"กระเป๋า":         {"กระเป๋า", "เป้", "สะพาย", "bag", "backpack"},
			"คอมพิวเตอร์":     {"คอมพิวเตอร์", "โน๊ตบุ๊ค", "เมาส์", "laptop", "computer"},
			"สุขภาพ":          {"สุขภาพ", "วิตามิน", "อาหารเสริม", "health", "vitamin"},
			"กีฬา":            {"กีฬา", "ฟุตบอล", "ออกกำลังกาย", "sport", "fitness"},
			"เครื่องใช้ไฟฟ้า": {"เครื่องใช้ไฟฟ้า", "เครื่องปั่น", "เครื่องทำกาแฟ", "appliance"},
			"Electronics":     {"electronics", "gadget", "อิเล็กทรอนิกส์", "iphone", "มือถือ"},
		},
	}

	lex.compile()
	return lex
}

func (l *Lexicon) compile() {
	if l.Synonyms == nil {
		l.Synonyms = map[string][]string{}
	}
	if l.Abbreviations == nil {
		l.Abbreviations = map[string][]string{}
	}
	if l.Brands == nil {
		l.Brands = map[string][]string{}
	}
	if l.Categories == nil {
		l.Categories = map[string][]string{}
	}

	l.synonymKeys = sortedKeys(l.Synonyms)
	l.brandNames = sortedKeys(l.Brands)
	l.categoryKeys = sortedKeys(l.Categories)
}

// SynonymKeys returns synonym group keys in stable sorted order.
func (l *Lexicon) SynonymKeys() []string { return l.synonymKeys }

// BrandNames returns known brand identifiers in stable sorted order.
func (l *Lexicon) BrandNames() []string { return l.brandNames }

// CategoryNames returns known category identifiers in stable sorted order.
func (l *Lexicon) CategoryNames() []string { return l.categoryKeys }

// CategoryKeywords returns the keyword list for a category, or nil if the
// category is unknown.
func (l *Lexicon) CategoryKeywords(category string) []string {
	return l.Categories[category]
}

// BrandKeywords returns the keyword variants for a brand, or nil if unknown.
func (l *Lexicon) BrandKeywords(brand string) []string {
	return l.Brands[brand]
}

// AbbreviationExpansions returns the expansions for a whole-query
// abbreviation, or nil if the key is unknown.
func (l *Lexicon) AbbreviationExpansions(key string) []string {
	return l.Abbreviations[key]
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
