package marketplace

// AllParsers 返回全部受支持市场的解析器
func AllParsers() []Parser {
	return []Parser{
		NewSeaportParser(),
		NewLooksRareParser(),
		NewX2Y2Parser(),
		NewFoundationParser(),
		NewRaribleParser(),
	}
}
