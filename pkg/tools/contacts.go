package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SearchContactsTool looks up contacts in the CRM collaborator.
type SearchContactsTool struct {
	crm CRMClient
}

func NewSearchContactsTool(crm CRMClient) *SearchContactsTool {
	return &SearchContactsTool{crm: crm}
}

func (t *SearchContactsTool) Name() string {
	return "search_contacts"
}

func (t *SearchContactsTool) Description() string {
	return "Search CRM contacts by name, email, or company. Returns matching contacts with their properties."
}

func (t *SearchContactsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Name, email, or company to search for",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchContactsTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query := strings.TrimSpace(strArg(args, "query"))
	if query == "" {
		return ErrorResult("query is required")
	}

	contacts, err := t.crm.Search(ctx, query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("contact search failed: %v", err))
	}
	if len(contacts) == 0 {
		return SilentResult("No contacts matched the query.")
	}

	data, err := json.Marshal(contacts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode results: %v", err))
	}
	return SilentResult(string(data))
}

// CreateContactTool adds a new contact to the CRM.
type CreateContactTool struct {
	crm CRMClient
}

func NewCreateContactTool(crm CRMClient) *CreateContactTool {
	return &CreateContactTool{crm: crm}
}

func (t *CreateContactTool) Name() string {
	return "create_contact"
}

func (t *CreateContactTool) Description() string {
	return "Create a new CRM contact. Email is required; name, phone, and company are optional."
}

func (t *CreateContactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email": map[string]interface{}{
				"type":        "string",
				"description": "Contact email address",
			},
			"firstname": map[string]interface{}{
				"type":        "string",
				"description": "First name",
			},
			"lastname": map[string]interface{}{
				"type":        "string",
				"description": "Last name",
			},
			"phone": map[string]interface{}{
				"type":        "string",
				"description": "Phone number",
			},
			"company": map[string]interface{}{
				"type":        "string",
				"description": "Company name",
			},
		},
		"required": []string{"email"},
	}
}

func (t *CreateContactTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	email := strings.TrimSpace(strArg(args, "email"))
	if email == "" {
		return ErrorResult("email is required")
	}

	fields := map[string]string{"email": email}
	for _, key := range []string{"firstname", "lastname", "phone", "company"} {
		if v := strArg(args, key); v != "" {
			fields[key] = v
		}
	}

	contact, err := t.crm.Create(ctx, fields)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to create contact: %v", err))
	}

	return &ToolResult{
		ForLLM:  fmt.Sprintf("Contact created with id %s.", contact.ID),
		ForUser: fmt.Sprintf("👤 Added %s to contacts", email),
	}
}

// UpdateContactTool changes properties on an existing CRM contact.
type UpdateContactTool struct {
	crm CRMClient
}

func NewUpdateContactTool(crm CRMClient) *UpdateContactTool {
	return &UpdateContactTool{crm: crm}
}

func (t *UpdateContactTool) Name() string {
	return "update_contact"
}

func (t *UpdateContactTool) Description() string {
	return "Update properties of an existing CRM contact by id."
}

func (t *UpdateContactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"contactId": map[string]interface{}{
				"type":        "string",
				"description": "CRM contact id",
			},
			"properties": map[string]interface{}{
				"type":        "object",
				"description": "Property names and new values",
			},
		},
		"required": []string{"contactId", "properties"},
	}
}

func (t *UpdateContactTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	id := strings.TrimSpace(strArg(args, "contactId"))
	if id == "" {
		return ErrorResult("contactId is required")
	}
	props := mapArg(args, "properties")
	if len(props) == 0 {
		return ErrorResult("properties is required")
	}

	fields := make(map[string]string, len(props))
	for k, v := range props {
		fields[k] = fmt.Sprintf("%v", v)
	}

	if _, err := t.crm.Update(ctx, id, fields); err != nil {
		return ErrorResult(fmt.Sprintf("failed to update contact: %v", err))
	}
	return SilentResult(fmt.Sprintf("Contact %s updated.", id))
}

// AddContactNoteTool attaches a free-form note to a CRM contact.
type AddContactNoteTool struct {
	crm CRMClient
}

func NewAddContactNoteTool(crm CRMClient) *AddContactNoteTool {
	return &AddContactNoteTool{crm: crm}
}

func (t *AddContactNoteTool) Name() string {
	return "add_contact_note"
}

func (t *AddContactNoteTool) Description() string {
	return "Attach a note to an existing CRM contact by id."
}

func (t *AddContactNoteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"contactId": map[string]interface{}{
				"type":        "string",
				"description": "CRM contact id",
			},
			"note": map[string]interface{}{
				"type":        "string",
				"description": "Note text",
			},
		},
		"required": []string{"contactId", "note"},
	}
}

func (t *AddContactNoteTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	id := strings.TrimSpace(strArg(args, "contactId"))
	note := strArg(args, "note")
	if id == "" || note == "" {
		return ErrorResult("contactId and note are required")
	}

	if err := t.crm.AddNote(ctx, id, note); err != nil {
		return ErrorResult(fmt.Sprintf("failed to add note: %v", err))
	}
	return SilentResult(fmt.Sprintf("Note added to contact %s.", id))
}
