package synthesizer

import "strings"

// StylePreset bundles the tone directives appended to the synthesis prompt.
type StylePreset struct {
	Name   string
	Tone   string
	Length string
	Emoji  string
	Detail string
}

// Style preset names accepted from the API.
const (
	StyleWarm    = "samimi"
	StyleFormal  = "resmi"
	StyleConcise = "kisa"
)

var stylePresets = map[string]StylePreset{
	StyleWarm: {
		Name:   StyleWarm,
		Tone:   "Sıcak, samimi ve doğal bir tonda konuş.",
		Length: "Orta uzunlukta, akıcı paragraflar kur.",
		Emoji:  "Yerinde olduğunda tek tük emoji kullanabilirsin.",
		Detail: "Gerektiği kadar ayrıntı ver, gereksiz tekrar yapma.",
	},
	StyleFormal: {
		Name:   StyleFormal,
		Tone:   "Kibar ve resmi bir dil kullan, sen yerine siz de.",
		Length: "Net ve derli toplu yanıtlar ver.",
		Emoji:  "Emoji kullanma.",
		Detail: "Konuyu eksiksiz ama süssüz biçimde aktar.",
	},
	StyleConcise: {
		Name:   StyleConcise,
		Tone:   "Doğrudan ve rahat bir tonda konuş.",
		Length: "Mümkün olan en kısa yanıtı ver, bir iki cümleyi geçme.",
		Emoji:  "Emoji kullanma.",
		Detail: "Yalnızca sorulanı yanıtla.",
	},
}

// PresetFor returns the named preset, defaulting to the warm style.
func PresetFor(name string) StylePreset {
	if p, ok := stylePresets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return stylePresets[StyleWarm]
}

// Render flattens the preset into prompt lines.
func (p StylePreset) Render() string {
	return strings.Join([]string{
		"Üslup:", "- " + p.Tone, "- " + p.Length, "- " + p.Emoji, "- " + p.Detail,
	}, "\n")
}
