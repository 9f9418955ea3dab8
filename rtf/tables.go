package rtf

import "golang.org/x/text/encoding/charmap"

// codePages maps \ansicpg values to single-byte decoders. Unknown pages keep
// the Windows-1252 default.
var codePages = map[int]*charmap.Charmap{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28605: charmap.ISO8859_15,
}

// symbols are control words that stand for text.
var symbols = map[string]string{
	"par":       "\n",
	"line":      "\n",
	"row":       "\n",
	"sect":      "\n\n",
	"page":      "\n\n",
	"tab":       "\t",
	"cell":      "\t",
	"nestcell":  "\t",
	"emdash":    "\u2014",
	"endash":    "\u2013",
	"emspace":   " ",
	"enspace":   " ",
	"qmspace":   " ",
	"bullet":    "\u2022",
	"lquote":    "\u2018",
	"rquote":    "\u2019",
	"ldblquote": "\u201C",
	"rdblquote": "\u201D",
}

// destinations hold no visible text.
var destinations = map[string]bool{}

func init() {
	for _, d := range []string{
		"aftncn", "aftnsep", "aftnsepc", "annotation", "atnauthor", "atndate",
		"atnicn", "atnid", "atnparent", "atnref", "atntime", "atrfend",
		"atrfstart", "author", "background", "bkmkend", "bkmkstart", "blipuid",
		"buptim", "category", "colorschememapping", "colortbl", "comment",
		"company", "creatim", "datafield", "datastore", "defchp", "defpap",
		"do", "doccomm", "docvar", "dptxbxtext", "ebcend", "ebcstart",
		"factoidname", "falt", "fchars", "ffdeftext", "ffentrymcr",
		"ffexitmcr", "ffformat", "ffhelptext", "ffl", "ffname", "ffstattext",
		"file", "filetbl", "fldinst", "fldtype", "fname", "fontemb",
		"fontfile", "fonttbl", "footer", "footerf", "footerl", "footerr",
		"footnote", "formfield", "ftncn", "ftnsep", "ftnsepc", "g",
		"generator", "gridtbl", "header", "headerf", "headerl", "headerr",
		"hl", "hlfr", "hlinkbase", "hlloc", "hlsrc", "hsv", "htmltag", "info",
		"keycode", "keywords", "latentstyles", "lchars", "levelnumbers",
		"leveltext", "lfolevel", "linkval", "list", "listlevel", "listname",
		"listoverride", "listoverridetable", "listpicture", "liststylename",
		"listtable", "listtext", "lsdlockedexcept", "mailmerge", "manager",
		"mmath", "mmathPict", "mmathPr", "nesttableprops", "nextfile",
		"nonesttables", "objalias", "objclass", "objdata", "object", "objname",
		"objsect", "objtime", "oldcprops", "oldpprops", "oldsprops",
		"oldtprops", "oleclsid", "operator", "panose", "password",
		"passwordhash", "pgp", "pgptbl", "picprop", "pict", "pn", "pnseclvl",
		"pntext", "pntxta", "pntxtb", "printim", "private", "propname",
		"protend", "protstart", "protusertbl", "pxe", "revtbl", "revtim",
		"rsidtbl", "rxe", "shp", "shpgrp", "shpinst", "shppict", "shprslt",
		"shptxt", "sn", "sp", "staticval", "stylesheet", "subject", "sv",
		"svb", "tc", "template", "themedata", "title", "txe", "ud", "upr",
		"userprops", "wgrffmtfilter", "windowcaption", "writereservation",
		"writereservhash", "xe", "xform", "xmlattrname", "xmlattrvalue",
		"xmlclose", "xmlname", "xmlnstbl", "xmlopen",
	} {
		destinations[d] = true
	}
}
