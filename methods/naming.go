package methods

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
)

func moveLeadingNumbersToEnd(s string) string {
	re := regexp.MustCompile(`^(\d+)(.*)$`)
	match := re.FindStringSubmatch(s)
	if len(match) == 3 {
		return match[2] + match[1]
	}
	return s
}

// filterString 只保留中文、英文、数字和下划线
func filterString(str string) string {
	reg := regexp.MustCompile("[^\\p{Han}\\p{Latin}\\p{N}_]")
	result := reg.ReplaceAllString(str, "")
	result = strings.ReplaceAll(result, " ", "")
	return result
}

// ConvertToInitials 将中文字符串转换为拼音首字母拼接字符串
func ConvertToInitials(hanzi string) string {
	hanzi = filterString(hanzi)
	a := pinyin.NewArgs()
	a.Style = pinyin.FirstLetter
	var result string
	for _, runeValue := range hanzi {
		if unicode.Is(unicode.Han, runeValue) {
			pinyinSlice := pinyin.SinglePinyin(runeValue, a)
			if len(pinyinSlice) > 0 {
				result += pinyinSlice[0]
			}
		} else {
			result += string(runeValue)
		}
	}
	processed := moveLeadingNumbersToEnd(result)
	return strings.ToLower(processed)
}

// SafeTableName 把图层名转换为可作表名的标识符, 转换结果为空时回退到 layer
func SafeTableName(name string) string {
	s := ConvertToInitials(name)
	if s == "" {
		return "layer"
	}
	return s
}
