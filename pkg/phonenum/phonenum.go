// Package phonenum resolves WhatsApp ids (E.164 digits without the plus) to
// region and language metadata via a static calling-code prefix table.
package phonenum

import "strings"

// Resolution carries the region and language derived from a phone prefix.
type Resolution struct {
	RegionCode   string
	LanguageCode string
	Country      string
	Language     string
}

type entry struct {
	prefix   string
	region   string
	language string
	country  string
	langName string
}

// Longest prefix wins, so multi-digit codes must precede their one-digit
// parents in ambiguity terms; the lookup sorts by length at query time.
var table = []entry{
	{"1", "US", "en", "United States", "English"},
	{"7", "RU", "ru", "Russia", "Russian"},
	{"20", "EG", "ar", "Egypt", "Arabic"},
	{"27", "ZA", "en", "South Africa", "English"},
	{"30", "GR", "el", "Greece", "Greek"},
	{"31", "NL", "nl", "Netherlands", "Dutch"},
	{"32", "BE", "nl", "Belgium", "Dutch"},
	{"33", "FR", "fr", "France", "French"},
	{"34", "ES", "es", "Spain", "Spanish"},
	{"39", "IT", "it", "Italy", "Italian"},
	{"40", "RO", "ro", "Romania", "Romanian"},
	{"41", "CH", "de", "Switzerland", "German"},
	{"43", "AT", "de", "Austria", "German"},
	{"44", "GB", "en", "United Kingdom", "English"},
	{"45", "DK", "da", "Denmark", "Danish"},
	{"46", "SE", "sv", "Sweden", "Swedish"},
	{"47", "NO", "no", "Norway", "Norwegian"},
	{"48", "PL", "pl", "Poland", "Polish"},
	{"49", "DE", "de", "Germany", "German"},
	{"51", "PE", "es", "Peru", "Spanish"},
	{"52", "MX", "es", "Mexico", "Spanish"},
	{"54", "AR", "es", "Argentina", "Spanish"},
	{"55", "BR", "pt", "Brazil", "Portuguese"},
	{"56", "CL", "es", "Chile", "Spanish"},
	{"57", "CO", "es", "Colombia", "Spanish"},
	{"58", "VE", "es", "Venezuela", "Spanish"},
	{"60", "MY", "ms", "Malaysia", "Malay"},
	{"61", "AU", "en", "Australia", "English"},
	{"62", "ID", "id", "Indonesia", "Indonesian"},
	{"63", "PH", "en", "Philippines", "English"},
	{"64", "NZ", "en", "New Zealand", "English"},
	{"65", "SG", "en", "Singapore", "English"},
	{"66", "TH", "th", "Thailand", "Thai"},
	{"81", "JP", "ja", "Japan", "Japanese"},
	{"82", "KR", "ko", "South Korea", "Korean"},
	{"84", "VN", "vi", "Vietnam", "Vietnamese"},
	{"86", "CN", "zh", "China", "Chinese"},
	{"90", "TR", "tr", "Turkey", "Turkish"},
	{"91", "IN", "hi", "India", "Hindi"},
	{"92", "PK", "ur", "Pakistan", "Urdu"},
	{"93", "AF", "fa", "Afghanistan", "Persian"},
	{"234", "NG", "en", "Nigeria", "English"},
	{"254", "KE", "sw", "Kenya", "Swahili"},
	{"351", "PT", "pt", "Portugal", "Portuguese"},
	{"352", "LU", "fr", "Luxembourg", "French"},
	{"353", "IE", "en", "Ireland", "English"},
	{"358", "FI", "fi", "Finland", "Finnish"},
	{"380", "UA", "uk", "Ukraine", "Ukrainian"},
	{"420", "CZ", "cs", "Czechia", "Czech"},
	{"421", "SK", "sk", "Slovakia", "Slovak"},
	{"502", "GT", "es", "Guatemala", "Spanish"},
	{"503", "SV", "es", "El Salvador", "Spanish"},
	{"504", "HN", "es", "Honduras", "Spanish"},
	{"505", "NI", "es", "Nicaragua", "Spanish"},
	{"506", "CR", "es", "Costa Rica", "Spanish"},
	{"507", "PA", "es", "Panama", "Spanish"},
	{"591", "BO", "es", "Bolivia", "Spanish"},
	{"593", "EC", "es", "Ecuador", "Spanish"},
	{"595", "PY", "es", "Paraguay", "Spanish"},
	{"598", "UY", "es", "Uruguay", "Spanish"},
	{"971", "AE", "ar", "United Arab Emirates", "Arabic"},
	{"972", "IL", "he", "Israel", "Hebrew"},
	{"966", "SA", "ar", "Saudi Arabia", "Arabic"},
}

// Resolve matches the longest known calling-code prefix of phone. Unknown
// prefixes yield a zero Resolution.
func Resolve(phone string) Resolution {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")

	best := -1
	for i, e := range table {
		if !strings.HasPrefix(digits, e.prefix) {
			continue
		}
		if best == -1 || len(e.prefix) > len(table[best].prefix) {
			best = i
		}
	}
	if best == -1 {
		return Resolution{}
	}
	e := table[best]
	return Resolution{
		RegionCode:   e.region,
		LanguageCode: e.language,
		Country:      e.country,
		Language:     e.langName,
	}
}
