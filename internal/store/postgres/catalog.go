package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"shopsync/internal/retailer"
	"shopsync/internal/store"

	"github.com/lib/pq"
)

// UpsertProductsInStore writes one page of scraped products inside a single
// transaction: the snapshot is replaced, category ids are merged, and the
// day's extracted price is recorded in the history.
func (s *Store) UpsertProductsInStore(ctx context.Context, rows []store.ProductInStore) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO product_in_store (retailer, store_id, sku, payload, category_ids, last_synced)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (retailer, store_id, sku) DO UPDATE SET
			payload      = EXCLUDED.payload,
			category_ids = ARRAY(SELECT DISTINCT c FROM unnest(product_in_store.category_ids || EXCLUDED.category_ids) c),
			last_synced  = EXCLUDED.last_synced
	`
	history := `
		INSERT INTO price_history (retailer, store_id, sku, day, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (retailer, store_id, sku, day) DO UPDATE SET price = EXCLUDED.price
	`

	for _, row := range rows {
		payload, err := retailer.EncodePayload(row.Payload)
		if err != nil {
			return fmt.Errorf("encode payload %s: %w", row.Key(), err)
		}
		_, err = tx.ExecContext(ctx, upsert,
			string(row.Retailer),
			row.StoreID,
			row.SKU,
			payload,
			pq.Array(row.CategoryIDs),
			row.LastSynced,
		)
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", row.Key(), err)
		}

		price, err := json.Marshal(retailer.ExtractPricing(row.Payload))
		if err != nil {
			return fmt.Errorf("encode price %s: %w", row.Key(), err)
		}
		_, err = tx.ExecContext(ctx, history,
			string(row.Retailer),
			row.StoreID,
			row.SKU,
			row.LastSynced.Format("2006-01-02"),
			price,
		)
		if err != nil {
			return fmt.Errorf("record price %s: %w", row.Key(), err)
		}
	}

	return tx.Commit()
}

// ReindexProducts collapses product_in_store into one product row per
// (retailer, sku), keeping the freshest snapshot and the union of
// categories. Barcode and meta product linkage are untouched.
func (s *Store) ReindexProducts(ctx context.Context) error {
	query := `
		INSERT INTO product (retailer, sku, payload, category_ids)
		SELECT latest.retailer, latest.sku, latest.payload, COALESCE(cats.category_ids, '{}')
		FROM (
			SELECT DISTINCT ON (retailer, sku) retailer, sku, payload
			FROM product_in_store
			ORDER BY retailer, sku, last_synced DESC
		) latest
		LEFT JOIN (
			SELECT retailer, sku, array_agg(DISTINCT c) AS category_ids
			FROM product_in_store, unnest(category_ids) c
			GROUP BY retailer, sku
		) cats USING (retailer, sku)
		ON CONFLICT (retailer, sku) DO UPDATE SET
			payload      = EXCLUDED.payload,
			category_ids = EXCLUDED.category_ids
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("reindex products: %w", err)
	}
	return nil
}

// ProductsMissingBarcode pages products whose barcode resolution was never
// attempted, in deterministic order.
func (s *Store) ProductsMissingBarcode(ctx context.Context, limit int) ([]store.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT retailer, sku, payload, category_ids
		FROM product
		WHERE barcode IS NULL
		ORDER BY retailer, sku
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("products missing barcode: %w", err)
	}
	defer rows.Close()

	var out []store.Product
	for rows.Next() {
		var p store.Product
		var code string
		var raw json.RawMessage
		if err := rows.Scan(&code, &p.SKU, &raw, pq.Array(&p.CategoryIDs)); err != nil {
			return nil, err
		}
		p.Retailer = retailer.Retailer(code)
		if p.Payload, err = retailer.DecodePayload(raw); err != nil {
			return nil, fmt.Errorf("product %s-%s: %w", code, p.SKU, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetBarcodes writes resolution outcomes. Only never-attempted rows are
// touched, so a concurrent writer cannot regress a resolved barcode.
func (s *Store) SetBarcodes(ctx context.Context, updates []store.BarcodeUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE product SET barcode = $3
			WHERE retailer = $1 AND sku = $2 AND barcode IS NULL
		`, string(u.Retailer), u.SKU, u.Barcode)
		if err != nil {
			return fmt.Errorf("set barcode %s-%s: %w", u.Retailer, u.SKU, err)
		}
	}
	return tx.Commit()
}

// AllocateMetaProducts creates meta product rows for every resolved barcode
// and links products to them. Linking is append-only.
func (s *Store) AllocateMetaProducts(ctx context.Context) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO meta_product (id)
		SELECT DISTINCT barcode FROM product
		WHERE barcode IS NOT NULL AND barcode <> '' AND meta_product_id IS NULL
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate meta products: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE product SET meta_product_id = barcode
		WHERE barcode IS NOT NULL AND barcode <> '' AND meta_product_id IS NULL
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("link meta products: %w", err)
	}
	linked, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return int(inserted), int(linked), nil
}

// MetaProductPage loads one page of meta products with their backing
// snapshots for reindexing.
func (s *Store) MetaProductPage(ctx context.Context, page, size int) ([]store.MetaProductSnapshots, error) {
	if size <= 0 {
		size = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.title, m.brand_id, m.image_url, m.category_ids,
		       COALESCE(jsonb_agg(jsonb_build_object(
		           'retailer', p.retailer,
		           'payload', p.payload,
		           'categoryIds', p.category_ids
		       )) FILTER (WHERE p.sku IS NOT NULL), '[]'::jsonb)
		FROM meta_product m
		LEFT JOIN product p ON p.meta_product_id = m.id
		GROUP BY m.id
		ORDER BY m.id
		LIMIT $1 OFFSET $2
	`, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("meta product page %d: %w", page, err)
	}
	defer rows.Close()

	var out []store.MetaProductSnapshots
	for rows.Next() {
		var m store.MetaProductSnapshots
		var backing json.RawMessage
		err := rows.Scan(
			&m.Meta.ID,
			&m.Meta.Title,
			&m.Meta.BrandID,
			&m.Meta.ImageURL,
			pq.Array(&m.Meta.CategoryIDs),
			&backing,
		)
		if err != nil {
			return nil, err
		}
		m.Meta.Barcode = m.Meta.ID

		var snapshots []struct {
			Retailer    retailer.Retailer `json:"retailer"`
			Payload     json.RawMessage   `json:"payload"`
			CategoryIDs []string          `json:"categoryIds"`
		}
		if err := json.Unmarshal(backing, &snapshots); err != nil {
			return nil, fmt.Errorf("meta product %s snapshots: %w", m.Meta.ID, err)
		}
		if len(snapshots) > 0 {
			m.CategoryIDs = make(map[retailer.Retailer][]string)
		}
		for _, snap := range snapshots {
			payload, err := retailer.DecodePayload(snap.Payload)
			if err != nil {
				return nil, fmt.Errorf("meta product %s snapshot: %w", m.Meta.ID, err)
			}
			m.Payloads = append(m.Payloads, payload)
			m.CategoryIDs[snap.Retailer] = append(m.CategoryIDs[snap.Retailer], snap.CategoryIDs...)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMetaProducts bulk-writes recomputed derived fields.
func (s *Store) UpdateMetaProducts(ctx context.Context, updates []store.MetaProductUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE meta_product
			SET title = $2, brand_id = $3, image_url = $4, category_ids = $5
			WHERE id = $1
		`, u.ID, u.Title, u.BrandID, u.ImageURL, pq.Array(u.CategoryIDs))
		if err != nil {
			return fmt.Errorf("update meta product %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteMetaProducts removes meta products with no backing snapshots.
func (s *Store) DeleteMetaProducts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM meta_product WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete meta products: %w", err)
	}
	return nil
}

// EnsureBrands inserts any brands not yet known.
func (s *Store) EnsureBrands(ctx context.Context, brands []store.Brand) error {
	if len(brands) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range brands {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO brand (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO NOTHING
		`, b.ID, b.Name)
		if err != nil {
			return fmt.Errorf("ensure brand %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

// ReindexBrands recomputes per-brand product counts.
func (s *Store) ReindexBrands(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE brand SET product_count = (
			SELECT COUNT(*) FROM meta_product WHERE meta_product.brand_id = brand.id
		)
	`)
	if err != nil {
		return fmt.Errorf("reindex brands: %w", err)
	}
	return nil
}

// CategoryTree returns the unified category tree.
func (s *Store) CategoryTree(ctx context.Context) ([]store.CategoryNode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, parent_id FROM category ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("category tree: %w", err)
	}
	defer rows.Close()

	type flatNode struct {
		node   store.CategoryNode
		parent *string
	}
	var flat []flatNode
	for rows.Next() {
		var fn flatNode
		if err := rows.Scan(&fn.node.ID, &fn.node.Name, &fn.parent); err != nil {
			return nil, err
		}
		flat = append(flat, fn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	children := make(map[string][]store.CategoryNode)
	for _, fn := range flat {
		if fn.parent != nil {
			children[*fn.parent] = append(children[*fn.parent], fn.node)
		}
	}

	var attach func(n store.CategoryNode) store.CategoryNode
	attach = func(n store.CategoryNode) store.CategoryNode {
		for _, child := range children[n.ID] {
			n.Children = append(n.Children, attach(child))
		}
		return n
	}

	var roots []store.CategoryNode
	for _, fn := range flat {
		if fn.parent == nil {
			roots = append(roots, attach(fn.node))
		}
	}
	return roots, nil
}

// CategoryMappings returns the retailer-to-unified category links.
func (s *Store) CategoryMappings(ctx context.Context) ([]store.CategoryMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT retailer, retailer_category_id, category_id FROM category_mapping`)
	if err != nil {
		return nil, fmt.Errorf("category mappings: %w", err)
	}
	defer rows.Close()

	var out []store.CategoryMapping
	for rows.Next() {
		var m store.CategoryMapping
		var code string
		if err := rows.Scan(&code, &m.RetailerID, &m.CategoryID); err != nil {
			return nil, err
		}
		m.Retailer = retailer.Retailer(code)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchDocumentPage loads one page of search-index projections.
func (s *Store) SearchDocumentPage(ctx context.Context, page, size int) ([]store.SearchDocument, error) {
	if size <= 0 {
		size = 500
	}

	names, err := s.categoryNames(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.title, COALESCE(b.name, ''), COALESCE(m.image_url, ''), m.category_ids,
		       COALESCE(array_agg(DISTINCT pis.retailer || '-' || pis.store_id)
		           FILTER (WHERE pis.store_id IS NOT NULL), '{}')
		FROM meta_product m
		LEFT JOIN brand b ON b.id = m.brand_id
		LEFT JOIN product p ON p.meta_product_id = m.id
		LEFT JOIN product_in_store pis ON pis.retailer = p.retailer AND pis.sku = p.sku
		GROUP BY m.id, b.name
		ORDER BY m.id
		LIMIT $1 OFFSET $2
	`, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("search document page %d: %w", page, err)
	}
	defer rows.Close()

	var out []store.SearchDocument
	for rows.Next() {
		var doc store.SearchDocument
		err := rows.Scan(
			&doc.ID,
			&doc.Title,
			&doc.Brand,
			&doc.ImageURL,
			pq.Array(&doc.Categories),
			pq.Array(&doc.Stores),
		)
		if err != nil {
			return nil, err
		}

		doc.SearchTitle = strings.TrimSpace(doc.Brand + " " + doc.Title)
		var categoryNames []string
		for _, id := range doc.Categories {
			if name, ok := names[id]; ok {
				categoryNames = append(categoryNames, name)
			}
		}
		doc.SearchCategory = strings.Join(categoryNames, " ")

		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) categoryNames(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM category`)
	if err != nil {
		return nil, fmt.Errorf("category names: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// ProductsInStores returns, for the given meta product ids, every
// product-in-store record held by any of the given stores.
func (s *Store) ProductsInStores(ctx context.Context, metaProductIDs, storeKeys []string) ([]store.StorePriceRecord, error) {
	if len(metaProductIDs) == 0 || len(storeKeys) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.meta_product_id, pis.retailer, pis.sku, pis.store_id, COALESCE(st.name, ''), pis.payload, pis.last_synced
		FROM product p
		JOIN product_in_store pis ON pis.retailer = p.retailer AND pis.sku = p.sku
		LEFT JOIN store st ON st.retailer = pis.retailer AND st.id = pis.store_id
		WHERE p.meta_product_id = ANY($1)
		  AND pis.retailer || '-' || pis.store_id = ANY($2)
	`, pq.Array(metaProductIDs), pq.Array(storeKeys))
	if err != nil {
		return nil, fmt.Errorf("products in stores: %w", err)
	}
	defer rows.Close()

	var out []store.StorePriceRecord
	for rows.Next() {
		var rec store.StorePriceRecord
		var code string
		var raw json.RawMessage
		var synced time.Time
		err := rows.Scan(&rec.MetaProductID, &code, &rec.SKU, &rec.StoreID, &rec.StoreName, &raw, &synced)
		if err != nil {
			return nil, err
		}
		rec.Retailer = retailer.Retailer(code)
		rec.LastSynced = &synced
		if rec.Payload, err = retailer.DecodePayload(raw); err != nil {
			return nil, fmt.Errorf("record %s-%s: %w", code, rec.SKU, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MetaProductIDsForSKUs maps (retailer, sku) keys onto resolved meta product
// ids; unresolved products are absent from the result.
func (s *Store) MetaProductIDsForSKUs(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT retailer || '-' || sku, meta_product_id
		FROM product
		WHERE retailer || '-' || sku = ANY($1) AND meta_product_id IS NOT NULL
	`, pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("meta product ids for skus: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, err
		}
		out[key] = id
	}
	return out, rows.Err()
}
