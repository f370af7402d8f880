package relay

import "fmt"

// directiveTemplate is appended after every persona. %[1]s is the agent name.
const directiveTemplate = "\n 注意重要：1、你在群里叫%[1]s，你的输出内容不要加%[1]s：这种多余前缀；" +
	"2、如果用户提出玩游戏，比如成语接龙等，严格按照游戏规则，不要说一大堆，要简短精炼"

// ComposeSystemPrompt returns the persona verbatim followed by the fixed directives:
// never prefix replies with "<agentName>:" and answer word games tersely by their rules.
// The persona is not inspected, so it cannot remove the directives.
func ComposeSystemPrompt(persona, agentName string) string {
	return persona + fmt.Sprintf(directiveTemplate, agentName)
}
