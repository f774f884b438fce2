package match

import "kalshi-arb/pkg/types"

// seriesPrefix is the exchange's series ticker per league. Event tickers
// are built as <prefix>-<YYMMMDD><teamcode><teamcode>.
var seriesPrefix = map[types.Sport]string{
	types.SportNBA:     "KXNBAGAME",
	types.SportNCAAMBB: "KXNCAAMGAME",
	types.SportNCAAWBB: "KXNCAAWGAME",
}

// teamCodes maps a normalized team name to its exchange team code. Keys
// are normalized with normalizeName, so lookups survive accents,
// punctuation, and "(W)" suffixes in the odds feed.
var teamCodes = map[types.Sport]map[string]string{
	types.SportNBA: {
		"atlanta hawks":          "ATL",
		"boston celtics":         "BOS",
		"brooklyn nets":          "BKN",
		"charlotte hornets":      "CHA",
		"chicago bulls":          "CHI",
		"cleveland cavaliers":    "CLE",
		"dallas mavericks":       "DAL",
		"denver nuggets":         "DEN",
		"detroit pistons":        "DET",
		"golden state warriors":  "GSW",
		"houston rockets":        "HOU",
		"indiana pacers":         "IND",
		"la clippers":            "LAC",
		"los angeles clippers":   "LAC",
		"los angeles lakers":     "LAL",
		"memphis grizzlies":      "MEM",
		"miami heat":             "MIA",
		"milwaukee bucks":        "MIL",
		"minnesota timberwolves": "MIN",
		"new orleans pelicans":   "NOP",
		"new york knicks":        "NYK",
		"oklahoma city thunder":  "OKC",
		"orlando magic":          "ORL",
		"philadelphia 76ers":     "PHI",
		"phoenix suns":           "PHX",
		"portland trail blazers": "POR",
		"sacramento kings":       "SAC",
		"san antonio spurs":      "SAS",
		"toronto raptors":        "TOR",
		"utah jazz":              "UTA",
		"washington wizards":     "WAS",
	},
	types.SportNCAAMBB: ncaaCodes,
	types.SportNCAAWBB: ncaaCodes,
}

// ncaaCodes is shared by the men's and women's college dictionaries; the
// odds feed distinguishes the leagues, not the school names.
var ncaaCodes = map[string]string{
	"alabama crimson tide":        "ALA",
	"arizona wildcats":            "ARIZ",
	"arizona state sun devils":    "ASU",
	"arkansas razorbacks":         "ARK",
	"auburn tigers":               "AUB",
	"baylor bears":                "BAY",
	"boise state broncos":         "BSU",
	"butler bulldogs":             "BUT",
	"byu cougars":                 "BYU",
	"cincinnati bearcats":         "CIN",
	"clemson tigers":              "CLEM",
	"colorado buffaloes":          "COLO",
	"creighton bluejays":          "CREI",
	"dayton flyers":               "DAY",
	"drake bulldogs":              "DRKE",
	"duke blue devils":            "DUKE",
	"east texas a&m lions":        "ETAM",
	"florida gators":              "FLA",
	"florida atlantic owls":       "FAU",
	"florida state seminoles":     "FSU",
	"george mason patriots":       "GMU",
	"georgetown hoyas":            "GTWN",
	"georgia bulldogs":            "UGA",
	"gonzaga bulldogs":            "GONZ",
	"grand canyon antelopes":      "GCU",
	"houston cougars":             "HOU",
	"illinois fighting illini":    "ILL",
	"indiana hoosiers":            "IU",
	"indiana state sycamores":     "INST",
	"iowa hawkeyes":               "IOWA",
	"iowa state cyclones":         "ISU",
	"kansas jayhawks":             "KU",
	"kansas state wildcats":       "KSU",
	"kentucky wildcats":           "UK",
	"liberty flames":              "LIB",
	"louisville cardinals":        "LOU",
	"lsu tigers":                  "LSU",
	"marquette golden eagles":     "MARQ",
	"maryland terrapins":          "MD",
	"memphis tigers":              "MEM",
	"miami hurricanes":            "MIA",
	"michigan wolverines":         "MICH",
	"michigan state spartans":     "MSU",
	"mississippi state bulldogs":  "MSST",
	"missouri tigers":             "MIZ",
	"nebraska cornhuskers":        "NEB",
	"nevada wolf pack":            "NEV",
	"new mexico lobos":            "UNM",
	"north carolina tar heels":    "UNC",
	"north carolina state wolfpack": "NCST",
	"northwestern wildcats":       "NW",
	"notre dame fighting irish":   "ND",
	"ohio state buckeyes":         "OSU",
	"oklahoma sooners":            "OU",
	"oklahoma state cowboys":      "OKST",
	"ole miss rebels":             "MISS",
	"oregon ducks":                "ORE",
	"penn state nittany lions":    "PSU",
	"pittsburgh panthers":         "PITT",
	"providence friars":           "PROV",
	"purdue boilermakers":         "PUR",
	"rutgers scarlet knights":     "RUTG",
	"saint marys gaels":           "SMC",
	"san diego state aztecs":      "SDSU",
	"seton hall pirates":          "HALL",
	"south carolina gamecocks":    "SCAR",
	"south florida bulls":         "USF",
	"stanford cardinal":           "STAN",
	"syracuse orange":             "SYR",
	"tcu horned frogs":            "TCU",
	"tennessee volunteers":        "TENN",
	"texas longhorns":             "TEX",
	"texas a&m aggies":            "TAMU",
	"texas state bobcats":         "TXST",
	"texas tech red raiders":      "TTU",
	"ucla bruins":                 "UCLA",
	"uconn huskies":               "CONN",
	"usc trojans":                 "USC",
	"utah utes":                   "UTAH",
	"utah state aggies":           "USU",
	"vanderbilt commodores":       "VAN",
	"villanova wildcats":          "NOVA",
	"virginia cavaliers":          "UVA",
	"virginia tech hokies":        "VT",
	"wake forest demon deacons":   "WAKE",
	"washington huskies":          "WASH",
	"west virginia mountaineers":  "WVU",
	"wisconsin badgers":           "WIS",
	"xavier musketeers":           "XAV",
}

// TeamCode resolves a raw odds-feed team name to its exchange code.
func TeamCode(sport types.Sport, rawName string) (string, bool) {
	codes, ok := teamCodes[sport]
	if !ok {
		return "", false
	}
	code, ok := codes[normalizeName(rawName)]
	return code, ok
}
