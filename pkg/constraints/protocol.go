package constraints

import "strings"

// Canonical document types accepted by the bridge.
const (
	DocGoodsEntry       = "GOODS_ENTRY"
	DocGoodsExit        = "GOODS_EXIT"
	DocTransfer         = "TRANSFER"
	DocPurchaseDelivery = "PURCHASE_DELIVERY"
)

// ERP object codes and Service Layer resources.
const (
	ObjectGoodsEntry       = "OIGN"
	ObjectGoodsExit        = "OIGE"
	ObjectTransfer         = "OWTR"
	ObjectPurchaseDelivery = "OPDN"

	PathGoodsEntry       = "/InventoryGenEntries"
	PathGoodsExit        = "/InventoryGenExits"
	PathTransfer         = "/StockTransfers"
	PathPurchaseDelivery = "/PurchaseDeliveryNotes"
	PathLogin            = "/Login"
	PathLogout           = "/Logout"

	// ObjTypePurchaseOrder is the ERP object type of purchase orders, also
	// used as BaseType on delivery lines linked to an order.
	ObjTypePurchaseOrder = 22
)

// DocTypeAliases maps legacy and short codes onto canonical types.
var DocTypeAliases = map[string]string{
	"EM":                DocGoodsEntry,
	"GR":                DocGoodsEntry,
	"GOODS_ENTRY":       DocGoodsEntry,
	"SM":                DocGoodsExit,
	"GI":                DocGoodsExit,
	"GOODS_EXIT":        DocGoodsExit,
	"TT":                DocTransfer,
	"TRANSFER":          DocTransfer,
	"EP":                DocPurchaseDelivery,
	"GRPO":              DocPurchaseDelivery,
	"PURCHASE_DELIVERY": DocPurchaseDelivery,
}

// NormalizeDocType returns the canonical type for code, or "" if unknown.
func NormalizeDocType(code string) string {
	return DocTypeAliases[strings.ToUpper(strings.TrimSpace(code))]
}

// FieldAliases lists the accepted names of one intake field. When a body
// carries more than one, the earliest name wins.
type FieldAliases struct {
	Field string
	Names []string
}

// HeaderAliases and LineAliases rename accepted field names onto the
// canonical JSON keys of the intake request.
var HeaderAliases = []FieldAliases{
	{"docType", []string{"docType", "type"}},
	{"fromWarehouse", []string{"fromWarehouse", "fromWarehouseCode", "fromWh"}},
	{"toWarehouse", []string{"toWarehouse", "toWarehouseCode", "toWh"}},
	{"vendorCode", []string{"vendorCode", "CardCode"}},
	{"reference", []string{"reference", "Comments"}},
	{"postingDate", []string{"postingDate"}},
	{"meta", []string{"meta", "metaJson"}},
	{"externalRef", []string{"externalRef"}},
	{"lines", []string{"lines"}},
}

var LineAliases = []FieldAliases{
	{"itemSku", []string{"itemSku", "ItemCode", "sku"}},
	{"quantity", []string{"quantity", "Quantity", "qty"}},
	{"fromWarehouse", []string{"fromWarehouse", "fromWarehouseCode", "fromWh"}},
	{"toWarehouse", []string{"toWarehouse", "toWarehouseCode", "toWh"}},
	{"baseDocId", []string{"baseDocId", "BaseEntry", "poDocEntry"}},
	{"baseLineNum", []string{"baseLineNum", "BaseLine", "poLineNum"}},
}

// Line statuses of the purchase-order mirror.
const (
	LineOpen   = "O"
	LineClosed = "C"
)

// NormalizeLineStatus folds ERP enum spellings onto O/C.
func NormalizeLineStatus(s string) string {
	switch strings.TrimSpace(s) {
	case "C", "bost_Closed":
		return LineClosed
	default:
		return LineOpen
	}
}
