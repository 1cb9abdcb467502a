package repository

import (
	"context"
	"fmt"
	"time"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/joseph-ayodele/invoice-pipeline/internal/entity"
)

const textSize = 2147483647

var (
	documentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "original_filename", Type: field.TypeString},
		{Name: "file_path", Type: field.TypeString, Size: textSize},
		{Name: "status", Type: field.TypeString, Size: 16, Default: "queued"},
		{Name: "raw_extracted_text", Type: field.TypeString, Nullable: true, Size: textSize},
		{Name: "ocr_tier", Type: field.TypeInt, Nullable: true},
		{Name: "display_name", Type: field.TypeString, Nullable: true},
		{Name: "supplier_name", Type: field.TypeString, Nullable: true},
		{Name: "invoice_number", Type: field.TypeString, Nullable: true},
		{Name: "invoice_date", Type: field.TypeString, Nullable: true, Size: 10},
		{Name: "due_date", Type: field.TypeString, Nullable: true, Size: 10},
		{Name: "total_amount", Type: field.TypeFloat64, Nullable: true},
		{Name: "gst_amount", Type: field.TypeFloat64, Nullable: true},
		{Name: "currency", Type: field.TypeString, Nullable: true, Size: 3},
		{Name: "gst_number", Type: field.TypeString, Nullable: true},
		{Name: "notes", Type: field.TypeString, Nullable: true, Size: textSize},
		{Name: "raw_llm_response", Type: field.TypeString, Nullable: true, Size: textSize},
		{Name: "error_message", Type: field.TypeString, Nullable: true, Size: textSize},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	DocumentsTable = &schema.Table{
		Name:       "documents",
		Columns:    documentsColumns,
		PrimaryKey: []*schema.Column{documentsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "document_status", Columns: []*schema.Column{documentsColumns[3]}},
		},
	}

	// attrs is stored as JSON text so key order survives a round trip.
	documentEntriesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt64, Increment: true},
		{Name: "document_id", Type: field.TypeInt64},
		{Name: "label", Type: field.TypeString, Size: textSize},
		{Name: "amount", Type: field.TypeFloat64, Nullable: true},
		{Name: "entry_type", Type: field.TypeString, Nullable: true},
		{Name: "attrs", Type: field.TypeString, Nullable: true, Size: textSize},
		{Name: "sort_order", Type: field.TypeInt, Default: 0},
	}
	DocumentEntriesTable = &schema.Table{
		Name:       "document_entries",
		Columns:    documentEntriesColumns,
		PrimaryKey: []*schema.Column{documentEntriesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "document_entries_documents_entries",
				Columns:    []*schema.Column{documentEntriesColumns[1]},
				RefColumns: []*schema.Column{documentsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "documententry_document_id_sort_order", Columns: []*schema.Column{documentEntriesColumns[1], documentEntriesColumns[6]}},
		},
	}

	attributeDictionaryColumns = []*schema.Column{
		{Name: "key", Type: field.TypeString},
		{Name: "column_group", Type: field.TypeString, Nullable: true, Size: 16},
		{Name: "canonical_name", Type: field.TypeString},
		{Name: "description", Type: field.TypeString, Default: ""},
		{Name: "source", Type: field.TypeString, Size: 32},
		{Name: "created_at", Type: field.TypeTime},
	}
	AttributeDictionaryTable = &schema.Table{
		Name:       "attribute_dictionary",
		Columns:    attributeDictionaryColumns,
		PrimaryKey: []*schema.Column{attributeDictionaryColumns[0]},
	}

	settingsColumns = []*schema.Column{
		{Name: "key", Type: field.TypeString},
		{Name: "value", Type: field.TypeString},
		{Name: "updated_at", Type: field.TypeTime},
	}
	SettingsTable = &schema.Table{
		Name:       "settings",
		Columns:    settingsColumns,
		PrimaryKey: []*schema.Column{settingsColumns[0]},
	}

	Tables = []*schema.Table{
		DocumentsTable,
		DocumentEntriesTable,
		AttributeDictionaryTable,
		SettingsTable,
	}
)

func init() {
	DocumentEntriesTable.ForeignKeys[0].RefTable = DocumentsTable
}

// SeedAttributes are the dictionary rows every database starts with.
var SeedAttributes = []entity.AttributeDefinition{
	seed("unit", entity.GroupUnit, "Unit", "Unit of measurement"),
	seed("uom", entity.GroupUnit, "Unit", "Unit of measure"),
	seed("unit_amount", entity.GroupUnitAmount, "Quantity", "Quantity in the unit"),
	seed("quantity", entity.GroupUnitAmount, "Quantity", "Quantity"),
	seed("qty", entity.GroupUnitAmount, "Quantity", "Quantity"),
	seed("kwh", entity.GroupUnitAmount, "kWh", "Energy used in kWh"),
	seed("kl", entity.GroupUnitAmount, "kL", "Water used in kilolitres"),
	seed("days", entity.GroupUnitAmount, "Days", "Number of days"),
	seed("hours", entity.GroupUnitAmount, "Hours", "Number of hours"),
	seed("unit_price", entity.GroupUnitPrice, "Unit Price", "Price per unit"),
	seed("price_each", entity.GroupUnitPrice, "Unit Price", "Price per item"),
	seed("period", entity.GroupExtra, "Period", "Billing period"),
	seed("meter_number", entity.GroupExtra, "Meter Number", "Meter identifier"),
}

func seed(key, group, name, desc string) entity.AttributeDefinition {
	g := group
	return entity.AttributeDefinition{Key: key, ColumnGroup: &g, CanonicalName: name, Description: desc, Source: entity.SourceSeed}
}

// Migrate creates or upgrades the schema and inserts the seed dictionary.
func Migrate(ctx context.Context, db *DB) error {
	m, err := schema.NewMigrate(db.driver())
	if err != nil {
		return fmt.Errorf("new migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	attrs := NewAttributeRepository(db, nil)
	now := time.Now().UTC()
	for _, def := range SeedAttributes {
		def.CreatedAt = now
		if _, err := attrs.InsertIfAbsent(ctx, def); err != nil {
			return fmt.Errorf("seed %s: %w", def.Key, err)
		}
	}
	return nil
}
