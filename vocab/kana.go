package vocab

import "strings"

// halfToFull maps halfwidth katakana to fullwidth base forms.
// Voicing marks (ﾞ ﾟ) are folded into the preceding character afterwards.
var halfToFull = map[rune]rune{
	// ア行
	'ｱ': 'ア', 'ｲ': 'イ', 'ｳ': 'ウ', 'ｴ': 'エ', 'ｵ': 'オ',
	// カ行
	'ｶ': 'カ', 'ｷ': 'キ', 'ｸ': 'ク', 'ｹ': 'ケ', 'ｺ': 'コ',
	// サ行
	'ｻ': 'サ', 'ｼ': 'シ', 'ｽ': 'ス', 'ｾ': 'セ', 'ｿ': 'ソ',
	// タ行
	'ﾀ': 'タ', 'ﾁ': 'チ', 'ﾂ': 'ツ', 'ﾃ': 'テ', 'ﾄ': 'ト',
	// ナ行
	'ﾅ': 'ナ', 'ﾆ': 'ニ', 'ﾇ': 'ヌ', 'ﾈ': 'ネ', 'ﾉ': 'ノ',
	// ハ行
	'ﾊ': 'ハ', 'ﾋ': 'ヒ', 'ﾌ': 'フ', 'ﾍ': 'ヘ', 'ﾎ': 'ホ',
	// マ行
	'ﾏ': 'マ', 'ﾐ': 'ミ', 'ﾑ': 'ム', 'ﾒ': 'メ', 'ﾓ': 'モ',
	// ヤ行
	'ﾔ': 'ヤ', 'ﾕ': 'ユ', 'ﾖ': 'ヨ',
	// ラ行
	'ﾗ': 'ラ', 'ﾘ': 'リ', 'ﾙ': 'ル', 'ﾚ': 'レ', 'ﾛ': 'ロ',
	// ワ行
	'ﾜ': 'ワ', 'ｦ': 'ヲ', 'ﾝ': 'ン',
	// 小文字
	'ｧ': 'ァ', 'ｨ': 'ィ', 'ｩ': 'ゥ', 'ｪ': 'ェ', 'ｫ': 'ォ',
	'ｬ': 'ャ', 'ｭ': 'ュ', 'ｮ': 'ョ', 'ｯ': 'ッ',
	// 長音
	'ｰ': 'ー',
}

// dakuten maps a base katakana to its voiced form (カ → ガ).
var dakuten = map[rune]rune{
	'カ': 'ガ', 'キ': 'ギ', 'ク': 'グ', 'ケ': 'ゲ', 'コ': 'ゴ',
	'サ': 'ザ', 'シ': 'ジ', 'ス': 'ズ', 'セ': 'ゼ', 'ソ': 'ゾ',
	'タ': 'ダ', 'チ': 'ヂ', 'ツ': 'ヅ', 'テ': 'デ', 'ト': 'ド',
	'ハ': 'バ', 'ヒ': 'ビ', 'フ': 'ブ', 'ヘ': 'ベ', 'ホ': 'ボ',
	'ウ': 'ヴ',
}

// handakuten maps a base katakana to its semi-voiced form (ハ → パ).
var handakuten = map[rune]rune{
	'ハ': 'パ', 'ヒ': 'ピ', 'フ': 'プ', 'ヘ': 'ペ', 'ホ': 'ポ',
}

// NormalizeKana converts hiragana and halfwidth katakana to fullwidth
// katakana and folds voicing marks into the preceding character.
// Runes outside kana ranges pass through unchanged.
func NormalizeKana(s string) string {
	var out []rune
	for _, r := range s {
		switch {
		case r >= 'ぁ' && r <= 'ゖ':
			// ひらがな → カタカナ (U+3041..U+3096 shift by 0x60)
			r += 0x60
		case r == 'ゝ' || r == 'ゞ':
			r += 0x60
		case r == 'ﾞ' || r == '゛':
			if n := len(out); n > 0 {
				if v, ok := dakuten[out[n-1]]; ok {
					out[n-1] = v
					continue
				}
			}
			continue
		case r == 'ﾟ' || r == '゜':
			if n := len(out); n > 0 {
				if v, ok := handakuten[out[n-1]]; ok {
					out[n-1] = v
					continue
				}
			}
			continue
		default:
			if full, ok := halfToFull[r]; ok {
				r = full
			}
		}
		out = append(out, r)
	}
	return string(out)
}

// SplitKana splits text into per-character label tokens, dropping
// whitespace. The input should already be normalized.
func SplitKana(s string) []string {
	var tokens []string
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '　' {
			continue
		}
		tokens = append(tokens, string(r))
	}
	return tokens
}

// JoinTokens renders decoded tokens as display text: word tokens are
// space-separated, character tokens are concatenated.
func JoinTokens(tokens []string, wordLevel bool) string {
	if wordLevel {
		return strings.Join(tokens, " ")
	}
	return strings.Join(tokens, "")
}
