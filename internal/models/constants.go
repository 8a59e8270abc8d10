package models

const (
	// PlaceholderDeviceInfo and PlaceholderContext are substituted verbatim in section templates.
	PlaceholderDeviceInfo = "{device_info}"
	PlaceholderContext    = "{context}"

	PlaceholderFilename = "{filename}"
	PlaceholderContent  = "{content}"

	ContextSeparator = "\n\n"

	NoDeviceInfo = "Device information not available"
)

var (
	// DefaultSectionPromptTemplate is used when a section template file is missing.
	// The %s verb receives the report type.
	DefaultSectionPromptTemplate = `You are a medical device regulatory writer creating a %s per EU MDR 2017/745.

Device Information:
{device_info}

Relevant Context from Source Documents:
{context}

Write this section based on the information provided. Use formal regulatory language.
Be thorough, accurate, and compliant with EU MDR requirements.
Output only the section content, no headers or titles.`

	// RegulatorySystemPrompt frames context-grounded generation.
	RegulatorySystemPrompt = `You are a medical device regulatory expert writing clinical documentation per EU MDR 2017/745.
Use the provided context from source documents to write accurate, thorough, and compliant regulatory content.
Always base your writing on the evidence provided in the context.`

	// ContextPromptTemplate wraps a task with retrieved context. Verbs: context, task.
	ContextPromptTemplate = `Context from source documents:
%s

Task:
%s

Write your response based on the context provided above.`

	// ClassificationPromptTemplate verbs: category list, filename, excerpt.
	ClassificationPromptTemplate = `You are a medical device regulatory expert. Classify the following document into exactly ONE of these categories:

Categories:
%s

Document filename: %s
Document content (excerpt):
%s

Respond with ONLY a JSON object in this exact format:
{
    "category": "category_name",
    "confidence": 0.95,
    "reasoning": "Brief explanation"
}`
)
