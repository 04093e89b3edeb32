package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/shopfront/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ordersCollection = "orders"

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection(ordersCollection)}
}

// EnsureIndexes creates the unique idempotency index and the listing index.
func (m *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idempotency_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("user_created"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

type orderItemDocument struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Quantity  int                  `bson:"quantity"`
	Image     string               `bson:"image,omitempty"`
}

type addressDocument struct {
	Name    string `bson:"name"`
	Street  string `bson:"street"`
	City    string `bson:"city"`
	State   string `bson:"state"`
	Zip     string `bson:"zip"`
	Country string `bson:"country"`
}

type orderDocument struct {
	ID               string               `bson:"_id"`
	IdempotencyKey   string               `bson:"idempotency_key"`
	UserID           string               `bson:"user_id"`
	Status           string               `bson:"status"`
	Items            []orderItemDocument  `bson:"items"`
	ShippingAddress  addressDocument      `bson:"shipping_address"`
	ShippingMethod   string               `bson:"shipping_method"`
	Subtotal         primitive.Decimal128 `bson:"subtotal"`
	Shipping         primitive.Decimal128 `bson:"shipping"`
	Tax              primitive.Decimal128 `bson:"tax"`
	Total            primitive.Decimal128 `bson:"total"`
	PaymentMethod    string               `bson:"payment_method"`
	PaymentIntentRef string               `bson:"payment_intent_ref"`
	CreatedAt        time.Time            `bson:"created_at"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

func (m *MongoRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	doc, err := toDocument(order)
	if err != nil {
		return err
	}

	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (m *MongoRepository) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	return m.findOne(ctx, bson.M{"_id": id})
}

func (m *MongoRepository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return m.findOne(ctx, bson.M{"idempotency_key": key})
}

func (m *MongoRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	return m.find(ctx, bson.M{"user_id": userID})
}

func (m *MongoRepository) ListOrders(ctx context.Context) ([]*domain.Order, error) {
	return m.find(ctx, bson.M{})
}

func (m *MongoRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	filter := bson.M{"_id": id, "status": string(from)}
	update := bson.M{"$set": bson.M{"status": string(to), "updated_at": time.Now().UTC()}}

	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := m.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("check order existence: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}

func (m *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}

func (m *MongoRepository) findOne(ctx context.Context, filter bson.M) (*domain.Order, error) {
	var doc orderDocument
	if err := m.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return fromDocument(&doc)
}

func (m *MongoRepository) find(ctx context.Context, filter bson.M) ([]*domain.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	for cursor.Next(ctx) {
		var doc orderDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		order, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return orders, nil
}

func toDocument(o *domain.Order) (*orderDocument, error) {
	var err error
	dec := func(d decimal.Decimal) primitive.Decimal128 {
		if err != nil {
			return primitive.Decimal128{}
		}
		var v primitive.Decimal128
		v, err = primitive.ParseDecimal128(d.String())
		return v
	}

	doc := &orderDocument{
		ID:             o.ID,
		IdempotencyKey: o.IdempotencyKey,
		UserID:         o.UserID,
		Status:         string(o.Status),
		Items:          make([]orderItemDocument, len(o.Items)),
		ShippingAddress: addressDocument{
			Name:    o.ShippingAddress.Name,
			Street:  o.ShippingAddress.Street,
			City:    o.ShippingAddress.City,
			State:   o.ShippingAddress.State,
			Zip:     o.ShippingAddress.Zip,
			Country: o.ShippingAddress.Country,
		},
		ShippingMethod:   string(o.ShippingMethod),
		Subtotal:         dec(o.Totals.Subtotal),
		Shipping:         dec(o.Totals.Shipping),
		Tax:              dec(o.Totals.Tax),
		Total:            dec(o.Totals.Total),
		PaymentMethod:    o.PaymentMethod,
		PaymentIntentRef: o.PaymentIntentRef,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	for i, item := range o.Items {
		doc.Items[i] = orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     dec(item.Price),
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encode order amounts: %w", err)
	}
	return doc, nil
}

func fromDocument(doc *orderDocument) (*domain.Order, error) {
	var err error
	dec := func(v primitive.Decimal128) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		var d decimal.Decimal
		d, err = decimal.NewFromString(v.String())
		return d
	}

	o := &domain.Order{
		ID:             doc.ID,
		UserID:         doc.UserID,
		Status:         domain.OrderStatus(doc.Status),
		Items:          make([]domain.OrderItem, len(doc.Items)),
		IdempotencyKey: doc.IdempotencyKey,
		ShippingAddress: domain.ShippingForm{
			Name:    doc.ShippingAddress.Name,
			Street:  doc.ShippingAddress.Street,
			City:    doc.ShippingAddress.City,
			State:   doc.ShippingAddress.State,
			Zip:     doc.ShippingAddress.Zip,
			Country: doc.ShippingAddress.Country,
		},
		ShippingMethod: domain.ShippingMethod(doc.ShippingMethod),
		Totals: domain.Totals{
			Subtotal: dec(doc.Subtotal),
			Shipping: dec(doc.Shipping),
			Tax:      dec(doc.Tax),
			Total:    dec(doc.Total),
		},
		PaymentMethod:    doc.PaymentMethod,
		PaymentIntentRef: doc.PaymentIntentRef,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	for i, item := range doc.Items {
		o.Items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     dec(item.Price),
			Quantity:  item.Quantity,
			Image:     item.Image,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode order %s amounts: %w", doc.ID, err)
	}
	return o, nil
}
