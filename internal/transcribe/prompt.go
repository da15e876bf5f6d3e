package transcribe

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/inkwell/internal/reference"
)

const restoreTemplate = `이미지는 학생이 작성한 논술 답안이고, 아래는 OCR로 인식한 텍스트야.
OCR 텍스트에 오류가 있을 수 있으니, 이미지를 직접 보면서 기초자료를 참고해 정확하게 복원해줘.

핵심 규칙:
1. 이미지에 실제로 쓰여진 글자를 읽어서 복원
2. OCR 텍스트는 참고용일 뿐 정답이 아님 (위치/순서 파악용)
3. 기초자료에 나오는 용어와 비슷하면 그 용어로 수정
   예: 이미지에 "공공선"처럼 보이는데 OCR이 "곰곰신"으로 인식했다면 → "공공선"

4. 절대 금지:
   - 이미지에 없는 내용 추가 금지
   - 문장 지어내기 금지

5. 출력 형식
   - 원고지 상 줄바꿈 무시하고 문장 단위로 연결
   - 문단 구분은 유지(새로운 줄에서 시작)

%s

<OCR 텍스트 (참고용)>
%s
</OCR 텍스트>

이미지를 보고 정확하게 복원한 텍스트만 출력해.`

// NoReference stands in for the reference block when none was found.
const NoReference = "(기초자료 없음)"

// BuildRestorePrompt renders the restoration instruction for rawText with the
// bundle's four fields as labeled sections.
func BuildRestorePrompt(b reference.Bundle, rawText string) string {
	return fmt.Sprintf(restoreTemplate, referenceBlock(b), rawText)
}

func referenceBlock(b reference.Bundle) string {
	if b.Empty() {
		return NoReference
	}
	var sb strings.Builder
	sb.WriteString("<기초자료>\n")
	section := func(label, body string) {
		sb.WriteString("<" + label + ">\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	section("문제", b.Question)
	section("제시문", b.Passage)
	section("채점기준", b.Rubric)
	sb.WriteString("<모범답안>\n")
	sb.WriteString(b.ModelAnswer)
	sb.WriteString("\n</기초자료>")
	return sb.String()
}
