package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/ecoparse/internal/model"
)

// ChunkSeparator joins the chunks of one entity into a single prompt input.
const ChunkSeparator = "\n---\n"

// FieldsSchema describes the data fields the model must return, one line per
// field, with the allowed values of closed fields.
func FieldsSchema(s *model.Schema) string {
	var b strings.Builder
	b.WriteString("The 'data' object in the JSON output should contain the following keys:")
	for _, f := range s.Fields() {
		fmt.Fprintf(&b, "\n- '%s': %s", f.Name, f.Description)
		if allowed := f.Allowed(); allowed != nil {
			fmt.Fprintf(&b, " The value MUST be one of %s.", listLiteral(allowed))
		}
	}
	return b.String()
}

// listLiteral renders values as ['a', 'b'].
func listLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// TextPrompt builds the extraction prompt for one species and its joined
// text chunks.
func TextPrompt(species, chunk, fieldsSchema, examples string) string {
	if strings.TrimSpace(examples) == "" {
		examples = "No examples provided."
	}

	var b strings.Builder
	b.WriteString("\n<PERSONA>\n")
	b.WriteString("You are an accurate scientific data extractor. Your task is to accurately extract specific pieces of information for a given species from a provided text chunk.\n")
	b.WriteString("</PERSONA>\n\n")

	b.WriteString("<TASK_DEFINITION>\n")
	fmt.Fprintf(&b, "For the species '%s', extract the required data fields from the following text chunk.\n\n", species)
	b.WriteString("Text Chunk for Analysis:\n---\n")
	b.WriteString(chunk)
	b.WriteString("\n---\n</TASK_DEFINITION>\n\n")

	b.WriteString("<EXAMPLES>\n")
	b.WriteString("Use these examples to understand the context and desired output format:\n")
	b.WriteString(examples)
	b.WriteString("\n</EXAMPLES>\n\n")

	b.WriteString("<OUTPUT_REQUIREMENTS>\n")
	b.WriteString("Your output MUST be a JSON list containing exactly one JSON object.\n")
	b.WriteString("Do not include any text outside this JSON.\n")
	b.WriteString("The JSON MUST be valid and parseable.\n\n")
	b.WriteString("**JSON Schema:**\n{\n")
	fmt.Fprintf(&b, "  \"species\": \"%s\",\n", species)
	b.WriteString("  \"data\": { ... },\n")
	b.WriteString("  \"notes\": \"Any comments on the extraction process or if data is not found.\"\n}\n\n")
	b.WriteString(fieldsSchema)
	b.WriteString("\n\n---\n**CONTEXT**\n")
	fmt.Fprintf(&b, "Not all species will have complete data available in the text. Use the '%s' placeholder where information is missing.\n", model.NotFound)
	fmt.Fprintf(&b, "Some species are mentioned in passing, not actually being assessed in the text. Also use '%s' for those cases.\n", model.NotFound)
	b.WriteString("NEVER invent or infer information.\n")
	b.WriteString("---\n**SCIENTIFIC ACCURACY RULES:**\n")
	fmt.Fprintf(&b, "1. **MANDATORY '%[1]s' FOR MISSING DATA:** If you cannot find the information for a specific field in the text, you MUST use the exact string \"%[1]s\".\n", model.NotFound)
	b.WriteString("2. **NO GUESSING OR INFERENCE:** Do not invent or infer values. Only extract values explicitly present in the text.\n")
	fmt.Fprintf(&b, "3. **STRICT SCHEMA COMPLIANCE:** Every field defined in the schema MUST be present in the 'data' object, even if its value is \"%s\".\n", model.NotFound)
	fmt.Fprintf(&b, "4. **NOTES ARE ONLY FOR EXPLANATION:** The 'notes' field is for describing ambiguities or reasons for \"%s\". It must never contain data values that belong in 'data'.\n", model.NotFound)
	b.WriteString("5. **VALID JSON ONLY:** Your response must be syntactically correct JSON and nothing else.\n")
	b.WriteString("---\n</OUTPUT_REQUIREMENTS>\n")
	return b.String()
}
