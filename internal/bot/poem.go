package bot

import (
	"regexp"
	"strings"
)

// RandomPoemTarget is the default query when a poem directive carries no text.
const RandomPoemTarget = "随机"

type PoemTargetKind int

const (
	PoemTargetRandom PoemTargetKind = iota
	PoemTargetAuthor
	PoemTargetKeyword
)

type PoemTarget struct {
	Kind  PoemTargetKind
	Value string
}

var poemAuthorRegex = regexp.MustCompile(`^(.+?)的诗词?$`)

// ResolvePoemTarget classifies a poem query. "<name>的诗词" and short bare
// tokens are treated as author filters; ambiguous inputs favor author-match.
func ResolvePoemTarget(message string) PoemTarget {
	message = strings.TrimSpace(message)
	if message == "" || message == RandomPoemTarget {
		return PoemTarget{Kind: PoemTargetRandom}
	}
	if m := poemAuthorRegex.FindStringSubmatch(message); m != nil {
		return PoemTarget{Kind: PoemTargetAuthor, Value: strings.TrimSpace(m[1])}
	}
	if len([]rune(message)) < 10 {
		return PoemTarget{Kind: PoemTargetAuthor, Value: message}
	}
	return PoemTarget{Kind: PoemTargetKeyword, Value: message}
}

// BuildPoemPrompt renders the recommendation prompt for a poem query and
// reports the temperature to use (random picks run hotter).
func BuildPoemPrompt(message string) (prompt string, temperature float64) {
	target := ResolvePoemTarget(message)
	switch target.Kind {
	case PoemTargetRandom:
		return "请随机推荐一首中国古诗词，要求：\n" +
			"1. 必须是不同的诗词，不要重复推荐\n" +
			"2. 第1行必须是诗名\n" +
			"3. 第2行必须是作者名（作者不详的也请标明'作者不详'）\n" +
			"4. 第3行开始是诗句\n" +
			"5. 最后部分是解析\n" +
			"格式为：\n诗名\n作者\n\n诗句\n\n【解析】：详细解析", 1.0
	case PoemTargetAuthor:
		author := target.Value
		return "请随机推荐一首" + author + "的古诗词，并确保推荐的是" + author + "的作品。" +
			"第1行必须是诗名，第2行必须是\"" + author + "\"，第3行开始是诗句，最后部分是解析。" +
			"格式为：\n诗名\n" + author + "\n\n诗句\n\n【解析】：详细解析", 0.7
	default:
		return "请根据\"" + target.Value + "\"这个关键词，推荐一首相关的中国古诗词。" +
			"第1行必须是诗名，第2行必须是作者名，第3行开始是诗句，最后部分是解析。" +
			"格式为：\n诗名\n作者\n\n诗句\n\n【解析】：详细解析", 0.7
	}
}
