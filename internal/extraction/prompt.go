package extraction

import "strings"

const promptHeader = `以下是股票软件截图或文本中的所有识别行，请提取其中全部 A 股股票信息（股票名称和6位代码）：
- 忽略不含股票的行；
- 忽略"涨幅、振幅、序号、最新价"等非股票信息；
- 返回格式：一行一个，格式为"股票名称 股票代码"，代码为6位数字；
- 如果某行含多只股票，拆分为多行返回；
- 不要解释说明，直接返回结果。
【开始】
`

const promptFooter = "\n【结束】"

// BuildPrompt embeds the recognized lines in the extraction instruction.
func BuildPrompt(lines []string) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString(promptFooter)
	return b.String()
}
