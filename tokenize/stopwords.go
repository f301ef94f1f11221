package tokenize

const stopwordsEN = `a about above after again against all am an and any are as at be because been
before being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it its
itself just me more most my myself no nor not now of off on once only or other our ours ourselves
out over own same she should so some such than that the their theirs them themselves then there
these they this those through to too under until up very was we were what when where which while
who whom why will with would you your yours yourself yourselves`

const stopwordsFR = `a au aux avec ce ces cet cette dans de des du elle elles en est et eux il ils je
la le les leur leurs lui ma mais me mes moi mon ne nos notre nous on ou où par pas pour qu que qui
sa se ses son sur ta te tes toi ton tu un une vos votre vous c d j l à m n s t y été être avoir
ai as avons avez ont suis es sommes êtes sont était étaient fut ceci cela ça comme plus`

const stopwordsES = `a al algo ante antes como con contra cual cuando de del desde donde durante e el
ella ellas ellos en entre era es esa ese eso esta este esto estos fue ha han hasta la las le les lo
los mas me mi mis muy no nos o otra otro para pero por que quien se ser si sin sobre son su sus
también te tu un una uno unos y ya yo`

const stopwordsDE = `aber alle als am an auch auf aus bei bin bis bist da damit dann das dass dem den
der des die dies doch du durch ein eine einem einen einer eines er es für hat hatte ich ihr im in
ist ja kein mit nach nicht noch nun nur ob oder ohne sein sich sie sind so um und uns unter vom von
vor war was weil wenn wer wie wir wird zu zum zur`

const stopwordsRU = `и в во не что он на я с со как а то все она так его но да ты к у же вы за бы по
только ее мне было вот от меня еще нет о из ему теперь когда даже ну ли если уже или ни быть был
него до вас нибудь опять уж вам ведь там потом себя ничего ей может они тут где есть надо ней для
мы тебя их чем была сам чтоб без будто чего раз тоже себе под будет`

const stopwordsSV = `och det att i en jag hon som han på den med var sig för så till är men ett om
hade de av icke mig du henne då sin nu har inte hans honom skulle hennes där min man ej vid kunde
något från ut när efter upp vi dem vara vad över än dig kan sina här ha mot alla under någon eller
allt mycket sedan ju denna själv detta åt utan varit hur ingen mitt ni bli blev oss din dessa`
