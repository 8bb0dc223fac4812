package domain

import "time"

// PendingSelection — durable-запись, создаваемая непосредственно перед уходом
// на внешний платёжный шлюз. Привязывает попытку чекаута к выбранным позициям
// корзины, чтобы возврат со шлюза (возможно, в другой вкладке или после
// перезагрузки страницы) мог быть корректно финализирован.
//
// Запись читается и удаляется атомарно ровно один раз: повторная загрузка
// страницы возврата не должна повторно создать заказ или очистить корзину.
type PendingSelection struct {
	// AttemptID — идентификатор попытки чекаута, ключ записи.
	AttemptID string
	// CustomerID — владелец корзины, из которой делался выбор.
	CustomerID string
	// ItemIDs — идентификаторы позиций корзины, участвующих в попытке.
	ItemIDs []string
	// PaymentMethod — способ оплаты, выбранный перед редиректом.
	PaymentMethod string
	CreatedAt     time.Time
	// TTLAt — момент, после которого запись считается протухшей и подлежит
	// удалению фоновым sweep'ом.
	TTLAt time.Time
}
