package sanitize

import "github.com/microcosm-cc/bluemonday"

// 消息正文只保留基础排版标签和带安全属性的链接，其余标记全部剥掉。
// 这是入库前的安全归一化，不是展示层的美化。
var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "s", "u", "sub", "sup", "br")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(true)
	return p
}()

// Content 清洗消息正文。
func Content(s string) string {
	return policy.Sanitize(s)
}
