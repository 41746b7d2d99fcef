package analysis

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// untitledNote はコンテンツが空の場合のタイトル。
	untitledNote = "Untitled Note"
	// emptySummary はコンテンツが空の場合の要約。
	emptySummary = "No content available for summary."
	// genericImageTitle はファイル名からタイトルを作れない場合の画像タイトル。
	genericImageTitle = "Image Note"
	// titleWords はタイトルに使用する先頭の単語数。
	titleWords = 8
	// verbatimSummaryLength はコンテンツをそのまま要約とする最大文字数。
	verbatimSummaryLength = 200
	// summarySentences は要約に使用する先頭の文の数。
	summarySentences = 3
	// keywordTags はコンテンツから抽出するキーワードタグの最大件数。
	keywordTags = 5
	// minTags はパディング後に確保するタグの最小件数。
	minTags = 3
)

var (
	// sentenceSeparator は文の区切りに一致する。
	sentenceSeparator = regexp.MustCompile(`[.!?]+`)
	// wordPattern はキーワード候補となる単語に一致する。
	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
	// paddingTags はタグが不足する場合に補うタグ。
	paddingTags = []string{"note", "content"}
	// imageTags は画像に常に付与するタグ。
	imageTags = []string{"image", "visual", "media"}
)

// stopwords はキーワード抽出から除外する語。
var stopwords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "also": {}, "been": {},
	"before": {}, "being": {}, "below": {}, "between": {}, "both": {}, "but": {},
	"could": {}, "does": {}, "doing": {}, "down": {}, "during": {}, "each": {},
	"even": {}, "every": {}, "from": {}, "further": {}, "have": {}, "having": {},
	"here": {}, "http": {}, "https": {}, "into": {}, "just": {}, "like": {},
	"more": {}, "most": {}, "much": {}, "must": {}, "only": {}, "other": {},
	"over": {}, "same": {}, "should": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "through": {}, "under": {}, "until": {},
	"very": {}, "want": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "will": {}, "with": {}, "would": {}, "your": {},
	"yours": {}, "www": {},
}

// LocalAnalyzer はAIを使わずにヒューリスティックで解析を行う。
// どのような入力に対しても失敗しない。
type LocalAnalyzer struct{}

// NewLocalAnalyzer は新しいLocalAnalyzerを生成する。
func NewLocalAnalyzer() *LocalAnalyzer {
	return &LocalAnalyzer{}
}

// Run はリクエストを解析して結果を返す。
// 画像リクエストで参照先がある場合はファイル名から、それ以外は本文から結果を作る。
func (l *LocalAnalyzer) Run(req Request) Result {
	if req.wantsVision() {
		return l.runImage(req).normalize()
	}
	return l.runText(req).normalize()
}

// runText はテキストからタイトル・要約・タグを生成する。
func (l *LocalAnalyzer) runText(req Request) Result {
	content := strings.TrimSpace(req.Content)
	sentences := splitSentences(content)

	return Result{
		Title:   titleFromSentences(sentences),
		Summary: summarize(content, sentences),
		Tags:    textTags(content, req.ContentType),
	}
}

// runImage は画像の参照先からタイトル・要約・タグを生成する。
func (l *LocalAnalyzer) runImage(req Request) Result {
	name := imageFileName(req.ImageURL)
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	stem := readableStem(name)

	text := freeText(req.Content)
	title := genericImageTitle
	if text != "" && stem != "" {
		title = "Image: " + stem
	}

	var summary string
	switch {
	case text != "":
		summary = summarize(text, splitSentences(text))
	case name != "":
		summary = "Image file: " + name
	default:
		summary = "Image content without description."
	}

	tags := append([]string{}, imageTags...)
	if ext != "" {
		tags = append(tags, ext)
	}
	return Result{Title: title, Summary: summary, Tags: tags}
}

// splitSentences はテキストを文に分割し、空の文を除く。
func splitSentences(content string) []string {
	var sentences []string
	for _, s := range sentenceSeparator.Split(content, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// titleFromSentences は最初の文の先頭8語からタイトルを作る。
func titleFromSentences(sentences []string) string {
	if len(sentences) == 0 {
		return untitledNote
	}

	words := strings.Fields(sentences[0])
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.TrimRightFunc(strings.Join(words, " "), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	if title == "" {
		return untitledNote
	}
	return capitalize(title)
}

// summarize はコンテンツが短ければそのまま、長ければ先頭3文を要約とする。
func summarize(content string, sentences []string) string {
	if content == "" || len(sentences) == 0 {
		return emptySummary
	}
	if utf8.RuneCountInString(content) <= verbatimSummaryLength {
		return content
	}

	n := min(len(sentences), summarySentences)
	return truncate(strings.Join(sentences[:n], ". ")+".", MaxSummaryLength)
}

// textTags はコンテンツ種別と頻出キーワードからタグを作る。
func textTags(content string, contentType ContentType) []string {
	tags := []string{string(contentType)}
	tags = append(tags, topKeywords(content, keywordTags)...)
	tags = dedupeTags(tags, MaxTags)

	for _, pad := range paddingTags {
		if len(tags) >= minTags {
			break
		}
		tags = dedupeTags(append(tags, pad), MaxTags)
	}
	return tags
}

// keyword は頻度集計中の単語。
type keyword struct {
	word  string
	count int
	first int
}

// topKeywords は4文字以上でストップワードでない単語を頻度順に最大n件返す。
// 同じ頻度の場合は先に出現した単語を優先する。
func topKeywords(content string, n int) []string {
	byWord := make(map[string]*keyword)
	var order []*keyword
	for i, w := range wordPattern.FindAllString(strings.ToLower(content), -1) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if k, ok := byWord[w]; ok {
			k.count++
			continue
		}
		k := &keyword{word: w, count: 1, first: i}
		byWord[w] = k
		order = append(order, k)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	out := make([]string, 0, min(len(order), n))
	for _, k := range order[:min(len(order), n)] {
		out = append(out, k.word)
	}
	return out
}

// capitalize は先頭の文字を大文字にする。
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// imageFileName は画像の参照先からファイル名を取り出す。
func imageFileName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	p := ref
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		p = u.Path
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}

	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// readableStem はファイル名から拡張子を除き、区切り文字を空白に置き換える。
func readableStem(name string) string {
	stem := strings.TrimSuffix(name, path.Ext(name))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return strings.Join(strings.Fields(stem), " ")
}

// freeText はコンテンツが自由記述のテキストであれば整形して返す。
// 空、またはURLそのものの場合は空文字列を返す。
func freeText(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	if u, err := url.Parse(content); err == nil && u.Scheme != "" && u.Host != "" && !strings.ContainsAny(content, " \n\t") {
		return ""
	}
	return content
}
